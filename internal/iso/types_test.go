// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package iso_test

import (
	"testing"
	"time"

	"github.com/aquamon/aquamon/internal/iso"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	var d iso.Duration
	require.NoError(t, d.UnmarshalText([]byte("PT30S")))
	require.Equal(t, 30*time.Second, time.Duration(d))

	require.NoError(t, d.UnmarshalText([]byte("250ms")))
	require.Equal(t, 250*time.Millisecond, time.Duration(d))

	require.Error(t, d.UnmarshalText([]byte("soon")))

	txt, err := iso.Duration(90 * time.Second).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "PT1M30S", string(txt))
}

func TestDateTime(t *testing.T) {
	var dt iso.DateTime
	require.NoError(t, dt.UnmarshalText([]byte("2023-11-14T22:13:20Z")))
	require.Equal(t, int64(1700000000), time.Time(dt).Unix())

	parsed, err := iso.ParseDateTime("2023-11-14T22:13:20+00:00")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), parsed.Unix())

	require.Error(t, dt.UnmarshalText([]byte("yesterday")))
}
