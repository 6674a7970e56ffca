// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package store defines the shared key-value relay that carries device
// telemetry and commands.
package store

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/aquamon/aquamon/store/errors"
)

type (
	// Store is a shared, eventually-consistent key-value relay. Paths are
	// slash-separated; a collection path holds keyed children.
	Store interface {
		// Get reads the scalar value at path; false means absent.
		Get(ctx context.Context, path string) ([]byte, bool, error)

		// Set writes the scalar value at path. The store serializes
		// concurrent writes and the last one wins.
		Set(ctx context.Context, path string, value []byte) error

		// Put adds or replaces the child key of the collection at path.
		Put(ctx context.Context, path, key string, value []byte) error

		// Last returns up to n children of path with the greatest keys, in
		// ascending key order. A missing path yields no records and no error.
		Last(ctx context.Context, path string, n int) ([]Record, error)

		// WatchValue subscribes to value changes at path. The current value,
		// if any, is delivered first. Calling the returned function releases
		// the subscription and closes the channel.
		WatchValue(
			ctx context.Context,
			path string,
		) (<-chan Event, func(), error)

		// WatchChildren subscribes to children added under path. Existing
		// children may be replayed before new ones; consumers must tolerate
		// this. Calling the returned function releases the subscription and
		// closes the channel.
		WatchChildren(
			ctx context.Context,
			path string,
		) (<-chan Event, func(), error)

		Close() error
	}

	// Record is one child of a collection.
	Record struct {
		Key   string
		Value []byte
	}

	// Event is a subscription notification. An event with Err set terminates
	// the subscription; its channel is closed right after.
	Event struct {
		Path  string
		Key   string
		Value []byte
		Err   error
	}
)

// NormalizePath trims surrounding slashes and validates the result.
func NormalizePath(path string) (string, error) {
	p := strings.Trim(path, "/")
	if p == "" || strings.Contains(p, "//") ||
		strings.ContainsAny(p, "+#") {
		return "", errors.Argument{Name: "path", Value: path}
	}
	return p, nil
}

// ValidateKey rejects keys that cannot name a single child.
func ValidateKey(key string) error {
	if key == "" || strings.ContainsAny(key, "/+#") {
		return errors.Argument{Name: "key", Value: key}
	}
	return nil
}

// Join returns the path of child key under the collection path.
func Join(path, key string) string {
	return path + "/" + key
}

// CompareKeys orders child keys: integer keys compare numerically and sort
// before all other keys, which compare lexicographically.
func CompareKeys(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return strings.Compare(a, b)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortRecords sorts records in ascending key order.
func SortRecords(recs []Record) {
	slices.SortFunc(recs, func(a, b Record) int {
		return CompareKeys(a.Key, b.Key)
	})
}

// Tail returns the last n records of an already-sorted slice.
func Tail(recs []Record, n int) []Record {
	if n <= 0 {
		return nil
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs
}
