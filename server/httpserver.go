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
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebulastore/metadb/metrics"
	"github.com/nebulastore/metadb/proto"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

type HttpServer struct {
	httpServer *http.Server

	*Server
}

func NewHttpServer(server *Server) *HttpServer {
	return &HttpServer{Server: server}
}

func (h *HttpServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(h.newHandler(), ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("http server is running at:", addr)
}

func (h *HttpServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()

	h.httpServer.Shutdown(ctx)
}

func (h *HttpServer) newHandler() *rpc.Router {
	promHandler := promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})

	rpc.GET("/status", h.Status, rpc.OptArgsQuery())
	rpc.GET("/metrics", func(c *rpc.Context) {
		promHandler.ServeHTTP(c.Writer, c.Request)
	})
	rpc.GET("/v1/stat", h.Stat, rpc.OptArgsQuery())
	rpc.GET("/v1/list", h.List, rpc.OptArgsQuery())
	rpc.POST("/v1/mkdir", h.Mkdir, rpc.OptArgsQuery())
	rpc.POST("/v1/rename", h.Rename, rpc.OptArgsQuery())
	rpc.POST("/v1/delete", h.Delete, rpc.OptArgsQuery())

	return rpc.DefaultRouter
}

type partitionStatus struct {
	StartIno uint64 `json:"start_ino"`
	EndIno   uint64 `json:"end_ino"`
	Inodes   uint64 `json:"inodes"`
}

func (h *HttpServer) Status(c *rpc.Context) {
	parts := h.router.Partitions()
	ret := make([]partitionStatus, 0, len(parts))
	for _, p := range parts {
		ret = append(ret, partitionStatus{
			StartIno: p.StartIno(),
			EndIno:   p.EndIno(),
			Inodes:   p.InodeCount(),
		})
	}
	c.RespondJSON(ret)
}

type pathArgs struct {
	Path string `json:"path"`
}

func (h *HttpServer) Stat(c *rpc.Context) {
	var err error
	defer func(start time.Time) { metrics.Report("stat", err, start) }(time.Now())

	args := new(pathArgs)
	if err = c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	attr, err := h.router.GetAttr(c.Request.Context(), args.Path)
	if err != nil {
		c.RespondError(rpc.NewError(http.StatusNotFound, "NotFound", err))
		return
	}
	c.RespondJSON(attr)
}

type listArgs struct {
	Path  string `json:"path"`
	Start string `json:"start"`
	Limit int    `json:"limit"`
}

func (h *HttpServer) List(c *rpc.Context) {
	var err error
	defer func(start time.Time) { metrics.Report("list", err, start) }(time.Now())

	args := new(listArgs)
	if err = c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if args.Limit <= 0 || args.Limit > maxListNum {
		args.Limit = maxListNum
	}
	entries, err := h.router.ReadDir(c.Request.Context(), args.Path, args.Start, args.Limit)
	if err != nil {
		c.RespondError(rpc.NewError(http.StatusNotFound, "NotFound", err))
		return
	}
	c.RespondJSON(entries)
}

func (h *HttpServer) Mkdir(c *rpc.Context) {
	var err error
	defer func(start time.Time) { metrics.Report("mkdir", err, start) }(time.Now())

	args := new(pathArgs)
	if err = c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	attr, err := h.router.Mkdir(c.Request.Context(), args.Path, proto.ModeDir|0o755)
	if err != nil {
		c.RespondError(rpc.NewError(http.StatusConflict, "Conflict", err))
		return
	}
	c.RespondJSON(attr)
}

type renameArgs struct {
	Src string `json:"src"`
	Dst string `json:"dst"`
}

func (h *HttpServer) Rename(c *rpc.Context) {
	var err error
	defer func(start time.Time) { metrics.Report("rename", err, start) }(time.Now())

	args := new(renameArgs)
	if err = c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err = h.router.Rename(c.Request.Context(), args.Src, args.Dst); err != nil {
		c.RespondError(rpc.NewError(http.StatusConflict, "Conflict", err))
		return
	}
	c.RespondStatus(http.StatusOK)
}

func (h *HttpServer) Delete(c *rpc.Context) {
	var err error
	defer func(start time.Time) { metrics.Report("delete", err, start) }(time.Now())

	args := new(pathArgs)
	if err = c.ParseArgs(args); err != nil {
		c.RespondError(err)
		return
	}
	if err = h.namespace.Delete(c.Request.Context(), args.Path); err != nil {
		c.RespondError(rpc.NewError(http.StatusNotFound, "NotFound", err))
		return
	}
	c.RespondStatus(http.StatusOK)
}
