// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/promptlab/services/experiments/core"
)

// Key prefixes for the two experiment components.
const (
	PrefixAB     = "ab/"
	PrefixBandit = "bandit/"
)

// Store implements core.Store[V] over a DB, encoding values as JSON under
// a fixed key prefix.
//
// Thread Safety: Safe for concurrent use. Each call runs in its own
// transaction; read-modify-write sequences across calls are the
// component's responsibility.
type Store[V any] struct {
	db     *DB
	prefix string
}

var _ core.Store[struct{}] = (*Store[struct{}])(nil)

// NewStore creates a store over db. prefix must be non-empty so that
// several stores can share one database.
func NewStore[V any](db *DB, prefix string) (*Store[V], error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if prefix == "" {
		return nil, errors.New("prefix must not be empty")
	}
	return &Store[V]{db: db, prefix: prefix}, nil
}

func (s *Store[V]) key(k string) []byte {
	return []byte(s.prefix + k)
}

// Get returns the decoded value under key.
func (s *Store[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var (
		value V
		found bool
	)
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(raw []byte) error {
			return json.Unmarshal(raw, &value)
		})
	})
	if err != nil {
		var zero V
		return zero, false, fmt.Errorf("get %s%s: %w", s.prefix, key, err)
	}
	return value, found, nil
}

// Set encodes value and stores it under key.
func (s *Store[V]) Set(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s%s: %w", s.prefix, key, err)
	}
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(key), raw)
	})
	if err != nil {
		return fmt.Errorf("set %s%s: %w", s.prefix, key, err)
	}
	return nil
}

// Contains reports whether key exists.
func (s *Store[V]) Contains(ctx context.Context, key string) (bool, error) {
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(s.key(key))
		switch {
		case err == nil:
			found = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("contains %s%s: %w", s.prefix, key, err)
	}
	return found, nil
}

// Keys returns every key under the store's prefix, prefix stripped, in
// ascending order.
func (s *Store[V]) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(s.prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), s.prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.prefix, err)
	}
	return keys, nil
}
