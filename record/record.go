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

// Package record provides the canonical encoding and leaf hashing rule for
// records stored in the log: H(encode(record)), with encode being
// MessagePack, matching the original implementation's use of rmp-serde.
package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/hashicorp/go-msgpack/codec"

	"github.com/transparentlog/tlog/tree"
)

var mh = &codec.MsgpackHandle{}

func init() {
	mh.Canonical = true
}

// Encode returns the canonical MessagePack encoding of v.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, mh)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decodes data, previously produced by Encode, into v.
func Decode(data []byte, v any) error {
	dec := codec.NewDecoder(bytes.NewReader(data), mh)
	return dec.Decode(v)
}

// LeafHash computes the leaf hash of an already-encoded record: the
// lowercase hex SHA-256 digest of its raw bytes, with no domain-separation
// prefix (spec.md §6.4 — leaves and interior nodes are hashed differently
// on purpose, and this is the leaf side of that rule).
func LeafHash(data []byte) tree.Digest {
	sum := sha256.Sum256(data)
	return tree.Digest(hex.EncodeToString(sum[:]))
}
