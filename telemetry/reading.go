// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/aquamon/aquamon/store/errors"
)

// Reading is one timestamped water-quality sample.
type Reading struct {
	Turbidity       float64   `json:"turbidity"`
	PH              float64   `json:"ph"`
	DissolvedOxygen float64   `json:"do"`
	TDS             float64   `json:"tds"`
	Timestamp       time.Time `json:"timestamp"`
}

// Wire shape of a stored record. Pointers distinguish absent fields from zero.
type record struct {
	Turbidity       *float64 `json:"turbidity"`
	PH              *float64 `json:"ph"`
	DissolvedOxygen *float64 `json:"do"`
	TDS             *float64 `json:"tds"`
}

// ParseKey interprets a record key as whole seconds since the Unix epoch.
func ParseKey(key string) (time.Time, error) {
	sec, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return time.Time{}, errors.PayloadError("key %q is not epoch seconds", key)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// ParseRecord builds a Reading from a stored record. Every measurement must be
// present and numeric.
func ParseRecord(key string, value []byte) (Reading, error) {
	ts, err := ParseKey(key)
	if err != nil {
		return Reading{}, err
	}

	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Reading{}, errors.PayloadError("record %s: %v", key, err)
	}

	for _, f := range []struct {
		name  string
		value *float64
	}{
		{"turbidity", rec.Turbidity},
		{"ph", rec.PH},
		{"do", rec.DissolvedOxygen},
		{"tds", rec.TDS},
	} {
		if f.value == nil {
			return Reading{}, errors.PayloadError(
				"record %s: missing %s", key, f.name,
			)
		}
	}

	return Reading{
		Turbidity:       *rec.Turbidity,
		PH:              *rec.PH,
		DissolvedOxygen: *rec.DissolvedOxygen,
		TDS:             *rec.TDS,
		Timestamp:       ts,
	}, nil
}

// Record encodes the measurements of r in the stored record shape. The
// timestamp travels in the key; see Key.
func (r Reading) Record() ([]byte, error) {
	return json.Marshal(record{
		Turbidity:       &r.Turbidity,
		PH:              &r.PH,
		DissolvedOxygen: &r.DissolvedOxygen,
		TDS:             &r.TDS,
	})
}

// Key returns the record key for r.
func (r Reading) Key() string {
	return strconv.FormatInt(r.Timestamp.Unix(), 10)
}
