// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package options

import "iter"

// Apply iterates over the provided option lists in order, skipping any nil
// entries so that callers can pass conditionally-built options directly.
func Apply[O any](opts []O, rest ...O) iter.Seq[O] {
	return func(yield func(O) bool) {
		for _, list := range [][]O{opts, rest} {
			for _, opt := range list {
				if any(opt) == nil {
					continue
				}
				if !yield(opt) {
					return
				}
			}
		}
	}
}
