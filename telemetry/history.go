// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import "time"

// History is an arrival-ordered buffer of readings. With a positive capacity
// it is a ring that evicts the oldest reading; with zero capacity it grows
// without bound. It indexes the timestamps it holds and remembers the newest
// timestamp it has evicted. It is not safe for concurrent use.
type History struct {
	buf   []Reading
	start int
	limit int

	held    map[int64]int
	evicted int64
	dropped bool
}

// NewHistory creates an empty history.
func NewHistory(capacity int) *History {
	return &History{
		limit: max(capacity, 0),
		held:  map[int64]int{},
	}
}

// Append adds r as the newest reading.
func (h *History) Append(r Reading) {
	h.held[r.Timestamp.Unix()]++
	if h.limit == 0 || len(h.buf) < h.limit {
		h.buf = append(h.buf, r)
		return
	}
	h.evict(h.buf[h.start])
	h.buf[h.start] = r
	h.start = (h.start + 1) % h.limit
}

// Replace discards the contents and appends rs in order. Readings that do not
// fit count as evicted.
func (h *History) Replace(rs []Reading) {
	h.buf = h.buf[:0]
	h.start = 0
	clear(h.held)
	h.evicted, h.dropped = 0, false
	if h.limit > 0 && len(rs) > h.limit {
		for _, r := range rs[:len(rs)-h.limit] {
			h.evict(r)
		}
		rs = rs[len(rs)-h.limit:]
	}
	for _, r := range rs {
		h.held[r.Timestamp.Unix()]++
	}
	h.buf = append(h.buf, rs...)
}

// Has reports whether a reading with timestamp ts is held.
func (h *History) Has(ts time.Time) bool {
	return h.held[ts.Unix()] > 0
}

// Evicted returns the newest timestamp that has been evicted, if any.
func (h *History) Evicted() (time.Time, bool) {
	if !h.dropped {
		return time.Time{}, false
	}
	return time.Unix(h.evicted, 0).UTC(), true
}

// Snapshot copies the readings, oldest first.
func (h *History) Snapshot() []Reading {
	out := make([]Reading, 0, len(h.buf))
	out = append(out, h.buf[h.start:]...)
	return append(out, h.buf[:h.start]...)
}

// Len returns the number of readings held.
func (h *History) Len() int {
	return len(h.buf)
}

// Last returns the newest reading.
func (h *History) Last() (Reading, bool) {
	if len(h.buf) == 0 {
		return Reading{}, false
	}
	i := h.start - 1
	if i < 0 {
		i = len(h.buf) - 1
	}
	return h.buf[i], true
}

func (h *History) evict(r Reading) {
	sec := r.Timestamp.Unix()
	if h.held[sec]--; h.held[sec] <= 0 {
		delete(h.held, sec)
	}
	if !h.dropped || sec > h.evicted {
		h.evicted, h.dropped = sec, true
	}
}
