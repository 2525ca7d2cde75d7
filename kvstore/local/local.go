// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package local implements kvstore.Store as a sharded in-process map,
// for standalone runs and tests that have no external KV deployment
// available. Sharding follows the same "lock per bucket, not per
// table" idea as tenant/dcache.Cache's inflight-map discipline, sized
// for many concurrent taint_trace_* callbacks racing on Get/Set.
package local

import (
	"sync"

	"github.com/dchest/siphash"
)

const shardCount = 64

const (
	shardK0 = 0x736f6d6570736575
	shardK1 = 0x646f72616e646f6d
)

type shard struct {
	mu   sync.RWMutex
	data map[string]string
}

// Store is an in-memory kvstore.Store. The zero value is not usable;
// construct with New.
type Store struct {
	shards [shardCount]*shard
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i] = &shard{data: map[string]string{}}
	}
	return s
}

func (s *Store) shardFor(key string) *shard {
	h := siphash.Hash(shardK0, shardK1, []byte(key))
	return s.shards[h%shardCount]
}

// Get implements kvstore.Store.
func (s *Store) Get(key string) (string, bool) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.data[key]
	return v, ok
}

// Set implements kvstore.Store.
func (s *Store) Set(key, value string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = value
	return nil
}

// Len returns the total number of keys across all shards, for tests.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.data)
		sh.mu.RUnlock()
	}
	return n
}
