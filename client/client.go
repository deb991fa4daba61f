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

// Package client implements the verifying client state machine of
// spec.md §4.5: it remembers the last (size, root) it checked (the
// "witness"), only asks the server to prove consistency since that witness
// when it needs to move forward, and only ever asks for an inclusion proof
// against a root it has itself verified.
package client

import (
	"context"

	"github.com/transparentlog/tlog/proof"
	"github.com/transparentlog/tlog/server"
	"github.com/transparentlog/tlog/tree"
)

// Fetcher is the server-side surface a Client needs: the current size and
// root, and hashes at arbitrary tree positions. *server.Server satisfies
// this directly.
type Fetcher interface {
	Latest(ctx context.Context) (server.LogTree, error)
	Proof(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (proof.Proof, error)
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithHasher overrides the default SHA-256 hex-concatenation hasher.
func WithHasher(h tree.Hasher) Option {
	return func(c *Client) { c.hasher = h }
}

// WithWitness seeds the client with a previously-verified (size, root)
// instead of starting from the empty tree, e.g. after restoring saved
// client state.
func WithWitness(witness server.LogTree) Option {
	return func(c *Client) { c.witness = witness }
}

// NoCache disables the proof cache. Matches the original
// InMemoryLogClientBuilder::no_cache: every check re-fetches every
// position it needs instead of reusing previously verified node hashes.
func NoCache() Option {
	return func(c *Client) { c.cache = nil }
}

// Client is a verifying client over a Fetcher. The zero value is not
// usable; construct with New.
type Client struct {
	fetcher Fetcher
	hasher  tree.Hasher
	witness server.LogTree
	cache   map[tree.Position[uint64]]tree.Digest
}

// New returns a Client over fetcher, starting from the empty tree unless
// WithWitness is given, with an empty write-through cache unless NoCache is
// given.
func New(fetcher Fetcher, opts ...Option) *Client {
	c := &Client{
		fetcher: fetcher,
		hasher:  tree.DefaultHasher,
		cache:   map[tree.Position[uint64]]tree.Digest{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Witness returns the client's current (size, root) state.
func (c *Client) Witness() server.LogTree { return c.witness }

// Cached reports the cached hash at p, if any. Useful for tests asserting
// the cache was (or was not) populated by a prior CheckRecord call.
func (c *Client) Cached(p tree.Position[uint64]) (tree.Digest, bool) {
	if c.cache == nil {
		return "", false
	}
	d, ok := c.cache[p]
	return d, ok
}

// CheckRecord reports whether the record with the given id and leaf hash is
// included in the log, advancing the client's witness to the log's current
// size if necessary. It returns false, nil (not an error) when a proof
// fails to verify or when the claimed record does not yet exist in any
// tree the client can verify — per spec.md §4.5, a failed verification is
// a normal "no" answer, not a fault. A non-nil error means the Fetcher
// itself failed, or that id lies beyond a non-empty witness while Latest
// reports a size no larger than the witness's, in which case
// tree.ConsistencyPositions's ErrPrecondition is returned.
func (c *Client) CheckRecord(ctx context.Context, id uint64, leaf tree.Digest) (bool, error) {
	if id >= c.witness.Size {
		next, err := c.fetcher.Latest(ctx)
		if err != nil {
			return false, err
		}

		if c.witness.Size > 0 {
			positions, err := tree.ConsistencyPositions(c.witness.Size, next.Size)
			if err != nil {
				return false, err
			}
			proofs, err := c.getProofs(ctx, positions)
			if err != nil {
				return false, err
			}
			if err := proof.VerifyConsistency(c.hasher, c.witness.Size, next.Size, proofs, c.witness.Hash, next.Hash); err != nil {
				return false, nil
			}
			c.remember(proofs)
		}
		c.witness = next
	}

	if id >= c.witness.Size {
		// The claimed record still doesn't exist in any tree size the
		// client has now verified: there is nothing to check it against.
		return false, nil
	}

	positions := tree.InclusionPositions(id, c.witness.Size)
	proofs, err := c.getProofs(ctx, positions)
	if err != nil {
		return false, err
	}
	if err := proof.VerifyInclusion(c.hasher, id, c.witness.Size, leaf, proofs, c.witness.Hash); err != nil {
		return false, nil
	}
	c.remember(proofs)
	return true, nil
}

// remember folds the hashes of a proof that has just verified into the
// cache, unless NoCache was given. The cache is never invalidated (spec.md
// §9 "Cache invalidation"): a node hash, once verified as part of some root
// the client trusted, is correct for every future tree that root is a
// prefix of.
func (c *Client) remember(p proof.Proof) {
	if c.cache == nil {
		return
	}
	for pos, d := range p {
		c.cache[pos] = d
	}
}

// getProofs answers positions from the cache where possible and fetches the
// rest from the Fetcher. It does not write to the cache: fetched hashes are
// added by remember only after the proof they belong to has verified.
func (c *Client) getProofs(ctx context.Context, positions map[tree.Position[uint64]]struct{}) (proof.Proof, error) {
	if c.cache == nil {
		return c.fetcher.Proof(ctx, positions)
	}

	toFetch := map[tree.Position[uint64]]struct{}{}
	result := make(proof.Proof, len(positions))
	for p := range positions {
		if d, ok := c.cache[p]; ok {
			result[p] = d
			continue
		}
		toFetch[p] = struct{}{}
	}
	if len(toFetch) == 0 {
		return result, nil
	}

	fetched, err := c.fetcher.Proof(ctx, toFetch)
	if err != nil {
		return nil, err
	}
	for p, d := range fetched {
		result[p] = d
	}
	return result, nil
}
