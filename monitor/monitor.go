// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package monitor is the consumer-facing view of one device: the latest
// reading, the reading history, connectivity and command dispatch.
package monitor

import (
	"context"
	"slices"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/store"
	"github.com/aquamon/aquamon/telemetry"
)

type (
	// Monitor composes the telemetry engine and the command dispatcher over
	// one store. The two share no state.
	Monitor struct {
		telemetry *telemetry.Engine
		commands  *command.Dispatcher
		tokens    []string
	}

	// Status summarizes the monitor for presentation.
	Status struct {
		Connected bool            `json:"connected"`
		Readings  int             `json:"readings"`
		Busy      map[string]bool `json:"busy"`
		AnyBusy   bool            `json:"anyBusy"`
	}
)

// New creates a monitor. The tokens name the commands the presentation layer
// offers; they are always reported in Status even when idle.
func New(
	s store.Store,
	tokens []string,
	telemetryOpts []telemetry.Option,
	commandOpts []command.Option,
) (*Monitor, error) {
	engine, err := telemetry.New(s, telemetryOpts...)
	if err != nil {
		return nil, err
	}
	dispatcher, err := command.New(s, commandOpts...)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		telemetry: engine,
		commands:  dispatcher,
		tokens:    slices.Clone(tokens),
	}, nil
}

// Start begins following telemetry.
func (m *Monitor) Start(ctx context.Context) error {
	return m.telemetry.Start(ctx)
}

// Close stops following telemetry and cancels any in-flight command.
func (m *Monitor) Close() {
	m.telemetry.Close()
	m.commands.Close()
}

// Latest returns the most recent reading, if any.
func (m *Monitor) Latest() (telemetry.Reading, bool) {
	return m.telemetry.Latest()
}

// History returns a snapshot of the reading history, oldest first.
func (m *Monitor) History() []telemetry.Reading {
	return m.telemetry.History()
}

// Connected reports telemetry connectivity.
func (m *Monitor) Connected() bool {
	return m.telemetry.Connected()
}

// Updates signals telemetry changes; see telemetry.Engine.Updates.
func (m *Monitor) Updates() <-chan struct{} {
	return m.telemetry.Updates()
}

// Ready is closed once the history bootstrap has been attempted.
func (m *Monitor) Ready() <-chan struct{} {
	return m.telemetry.Ready()
}

// Dispatch starts sending a command; see command.Dispatcher.Dispatch.
func (m *Monitor) Dispatch(ctx context.Context, token string) *command.Pending {
	return m.commands.Dispatch(ctx, token)
}

// Send dispatches a command and waits for it to resolve.
func (m *Monitor) Send(ctx context.Context, token string) error {
	return m.commands.Send(ctx, token)
}

// Busy reports whether token is in flight.
func (m *Monitor) Busy(token string) bool {
	return m.commands.Busy(token)
}

// AnyBusy reports whether any command is in flight.
func (m *Monitor) AnyBusy() bool {
	return m.commands.AnyBusy()
}

// Tokens returns the configured command tokens.
func (m *Monitor) Tokens() []string {
	return slices.Clone(m.tokens)
}

// Status returns a point-in-time summary.
func (m *Monitor) Status() Status {
	st := Status{
		Connected: m.telemetry.Connected(),
		Readings:  len(m.telemetry.History()),
		Busy:      map[string]bool{},
	}
	for _, t := range m.tokens {
		st.Busy[t] = false
	}
	for _, t := range m.commands.BusyTokens() {
		st.Busy[t] = true
		st.AnyBusy = true
	}
	return st
}
