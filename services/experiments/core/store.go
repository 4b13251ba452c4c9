// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package core holds the pieces shared by the A/B assigner and the bandit:
// the key-value store abstraction backing experiment state and the error
// taxonomy both components report through.
//
// # Ownership
//
// A Store is handed to exactly one component. That component is the sole
// mutator of the values it writes; the store only needs get/set/contains
// semantics. The default MemoryStore keeps state for the lifetime of the
// process. A persistent implementation lives in storage/badger.
//
// # Thread Safety
//
// MemoryStore itself is not synchronised. The components built on it are
// single-threaded by contract, and hosting code that calls them from
// several goroutines must serialise each call.
package core

import (
	"context"
	"sort"
)

// Store is the backing mapping for experiment state.
//
// Implementations return (zero, false, nil) from Get for a missing key.
// A non-nil error is reserved for backend failures.
type Store[V any] interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value V) error

	// Contains reports whether key has a value.
	Contains(ctx context.Context, key string) (bool, error)

	// Keys returns every stored key in ascending order.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryStore is the default in-process Store.
//
// The zero value is not usable; create one with NewMemoryStore.
type MemoryStore[V any] struct {
	items map[string]V
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore[V any]() *MemoryStore[V] {
	return &MemoryStore[V]{items: make(map[string]V)}
}

// Get returns the value stored under key.
func (s *MemoryStore[V]) Get(_ context.Context, key string) (V, bool, error) {
	v, ok := s.items[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *MemoryStore[V]) Set(_ context.Context, key string, value V) error {
	s.items[key] = value
	return nil
}

// Contains reports whether key has a value.
func (s *MemoryStore[V]) Contains(_ context.Context, key string) (bool, error) {
	_, ok := s.items[key]
	return ok, nil
}

// Keys returns every stored key in ascending order.
func (s *MemoryStore[V]) Keys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (s *MemoryStore[V]) Len() int {
	return len(s.items)
}
