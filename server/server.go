// Copyright 2024 The Nebulastore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package server

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/nebulastore/metadb/router"
	"github.com/nebulastore/metadb/storage"
)

const (
	maxListNum = 1000

	defaultSplitCheckIntervalS = 60
)

type Config struct {
	RouterConfig  router.Config  `json:"router"`
	StorageConfig storage.Config `json:"storage"`

	SplitCheckIntervalS int `json:"split_check_interval_s"`
}

// Server ties the metadata router, the slice backend and the namespace
// together and runs the background split checker.
type Server struct {
	router    *router.Router
	namespace *router.Namespace

	closeCh chan struct{}
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	r, err := router.NewRouter(ctx, &cfg.RouterConfig)
	if err != nil {
		return nil, errors.Info(err, "init router failed")
	}
	backend, err := storage.NewBackend(ctx, &cfg.StorageConfig)
	if err != nil {
		r.Close()
		return nil, errors.Info(err, "init storage backend failed")
	}

	s := &Server{
		router:    r,
		namespace: router.NewNamespace(r, backend),
		closeCh:   make(chan struct{}),
	}

	interval := cfg.SplitCheckIntervalS
	if interval <= 0 {
		interval = defaultSplitCheckIntervalS
	}
	go s.splitLoop(time.Duration(interval) * time.Second)

	return s, nil
}

func (s *Server) splitLoop(interval time.Duration) {
	span, ctx := trace.StartSpanFromContext(context.Background(), "split-check")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.router.CheckSplit(ctx); err != nil {
				span.Errorf("split check failed: %s", err)
			}
		case <-s.closeCh:
			return
		}
	}
}

func (s *Server) Router() *router.Router       { return s.router }
func (s *Server) Namespace() *router.Namespace { return s.namespace }

func (s *Server) Close() {
	close(s.closeCh)
	s.router.Close()
}
