// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package iso

import (
	"time"

	"github.com/relvacode/iso8601"
	"github.com/sosodev/duration"
)

type (
	// Duration is a time.Duration that reads and writes ISO 8601 (PT30S). Go
	// duration strings (30s) are also accepted on input.
	Duration time.Duration

	// DateTime is a time.Time that reads and writes ISO 8601.
	DateTime time.Time
)

// String formats the duration in ISO 8601.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}

// MarshalText marshals the duration to an ISO 8601 string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText unmarshals the duration from an ISO 8601 string.
func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration parses an ISO 8601 duration, falling back to Go syntax.
func ParseDuration(s string) (time.Duration, error) {
	parsed, err := duration.Parse(s)
	if err == nil {
		return parsed.ToTimeDuration(), nil
	}
	if d, goErr := time.ParseDuration(s); goErr == nil {
		return d, nil
	}
	return 0, err
}

// String formats the date-time per RFC 3339.
func (dt DateTime) String() string {
	return time.Time(dt).Format(time.RFC3339)
}

// MarshalText marshals the date-time to an ISO 8601 string.
func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

// UnmarshalText unmarshals the date-time from an ISO 8601 string.
func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := iso8601.Parse(b)
	if err != nil {
		return err
	}
	*dt = DateTime(parsed)
	return nil
}

// ParseDateTime parses an ISO 8601 date-time.
func ParseDateTime(s string) (time.Time, error) {
	return iso8601.ParseString(s)
}
