// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aquamon/aquamon/api"
	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/device"
	"github.com/aquamon/aquamon/internal/iso"
	"github.com/aquamon/aquamon/metrics"
	"github.com/aquamon/aquamon/monitor"
	"github.com/aquamon/aquamon/relay"
	"github.com/aquamon/aquamon/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func (a *app) telemetryOptions(m *metrics.Metrics) []telemetry.Option {
	return []telemetry.Option{
		telemetry.WithPath(a.cfg.Readings.Path),
		telemetry.WithBootstrapLimit(a.cfg.Readings.BootstrapLimit),
		telemetry.WithCapacity(a.cfg.Readings.Capacity),
		telemetry.WithLogger(a.log),
		telemetry.WithMetrics{Metrics: m},
	}
}

func (a *app) commandOptions(m *metrics.Metrics) []command.Option {
	return []command.Option{
		command.WithPath(a.cfg.Commands.Path),
		command.WithTimeout(a.cfg.Commands.Timeout),
		command.WithLogger(a.log),
		command.WithMetrics{Metrics: m},
	}
}

func (a *app) relay(ctx context.Context) error {
	r, err := relay.New(a.cfg.Relay.Listen, relay.WithLogger(a.log))
	if err != nil {
		return err
	}
	if err := r.Serve(); err != nil {
		return err
	}
	a.log.Info("relay listening", "addr", r.Addr())

	<-ctx.Done()
	return r.Close()
}

func (a *app) monitor(ctx context.Context) error {
	s, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	mon, err := monitor.New(s, a.cfg.Commands.Tokens,
		a.telemetryOptions(m), a.commandOptions(m))
	if err != nil {
		return err
	}
	if err := mon.Start(ctx); err != nil {
		return err
	}
	defer mon.Close()

	srv := api.New(mon, api.WithGatherer{Gatherer: reg}, api.WithLogger(a.log))
	errs := make(chan error, 1)
	go func() { errs <- srv.Start(a.cfg.HTTP.Listen) }()
	a.log.Info("api listening", "addr", a.cfg.HTTP.Listen)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func (a *app) simulate(ctx context.Context) error {
	s, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	sim := device.New(s,
		device.WithReadingsPath(a.cfg.Readings.Path),
		device.WithCommandPath(a.cfg.Commands.Path),
		device.WithInterval(a.cfg.Device.Interval),
		device.WithAckDelay(a.cfg.Device.AckDelay),
		device.WithLogger(a.log),
	)
	a.log.Info("device simulator running")

	err = sim.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (a *app) send(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("send takes exactly one command token")
	}

	s, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := command.New(s, a.commandOptions(nil)...)
	if err != nil {
		return err
	}
	defer d.Close()

	start := time.Now()
	if err := d.Send(ctx, args[0]); err != nil {
		return err
	}
	a.log.Info("acknowledged", "command", args[0],
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *app) history(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("history", flag.ContinueOnError)
	var since iso.DateTime
	flags.TextVar(&since, "since", iso.DateTime{},
		"only print readings at or after this ISO 8601 time")
	if err := flags.Parse(args); err != nil {
		return err
	}

	s, err := a.store(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := telemetry.New(s, a.telemetryOptions(nil)...)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer e.Close()

	select {
	case <-e.Ready():
	case <-ctx.Done():
		return context.Cause(ctx)
	}
	if !e.Connected() {
		return fmt.Errorf("bootstrap from %s failed", a.cfg.Readings.Path)
	}

	enc := json.NewEncoder(os.Stdout)
	from := time.Time(since)
	for _, r := range e.History() {
		if r.Timestamp.Before(from) {
			continue
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}
