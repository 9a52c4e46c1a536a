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

package errors

import "errors"

var (
	ErrInoDoesNotExist  = errors.New("ino does not exist")
	ErrInoAlreadyExists = errors.New("ino already exists")
	ErrInoOutOfRange    = errors.New("ino out of partition range")

	ErrDentryDoesNotExist  = errors.New("dentry does not exist")
	ErrDentryAlreadyExists = errors.New("dentry already exists")

	ErrPathDoesNotExist = errors.New("path does not exist")
	ErrInvalidPath      = errors.New("invalid path")

	ErrNotDirectory      = errors.New("not a directory")
	ErrIsDirectory       = errors.New("is a directory")
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	ErrInvalidData = errors.New("invalid data")

	ErrNoPartition = errors.New("no partition available")
)
