// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package options_test

import (
	"testing"

	"github.com/aquamon/aquamon/internal/options"
	"github.com/stretchr/testify/require"
)

type (
	option interface{ apply(*[]string) }
	named  string
)

func (n named) apply(out *[]string) { *out = append(*out, string(n)) }

func TestApplySkipsNil(t *testing.T) {
	var out []string
	for opt := range options.Apply[option](
		[]option{named("a"), nil, named("b")},
		nil, named("c"),
	) {
		opt.apply(&out)
	}
	require.Equal(t, []string{"a", "b", "c"}, out)
}

func TestApplyStopsEarly(t *testing.T) {
	var seen int
	for range options.Apply[option]([]option{named("a"), named("b")}) {
		seen++
		break
	}
	require.Equal(t, 1, seen)
}
