// Copyright 2022 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tlog glues the tree, proof, server, client, and record packages
// together with a handful of constructors for the three reference storage
// backends. Programs that want direct control over any one layer should
// import the subpackages instead; this package exists for the common case
// of standing up a complete log quickly.
package tlog

import (
	"github.com/transparentlog/tlog/client"
	"github.com/transparentlog/tlog/server"
	"github.com/transparentlog/tlog/store/boltstore"
	"github.com/transparentlog/tlog/store/file"
	"github.com/transparentlog/tlog/store/memory"
)

// NewMemoryLog returns a Server backed entirely by process memory. State is
// lost when the program exits; use NewFileLog or NewBoltLog for a log that
// survives a restart.
func NewMemoryLog(opts ...server.Option) *server.Server {
	return server.New(memory.New(), opts...)
}

// NewFileLog opens (creating if necessary) a flat-file-backed Server rooted
// at dir. The returned *file.Backend must be closed by the caller when the
// log is no longer needed.
func NewFileLog(dir string, opts ...server.Option) (*server.Server, *file.Backend, error) {
	b, err := file.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return server.New(b, opts...), b, nil
}

// NewBoltLog opens (creating if necessary) a bbolt-backed Server at path.
// The returned *boltstore.Backend must be closed by the caller when the log
// is no longer needed.
func NewBoltLog(path string, opts ...server.Option) (*server.Server, *boltstore.Backend, error) {
	b, err := boltstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return server.New(b, opts...), b, nil
}

// NewClient returns a verifying Client over s, starting from the empty
// tree.
func NewClient(s *server.Server, opts ...client.Option) *client.Client {
	return client.New(s, opts...)
}
