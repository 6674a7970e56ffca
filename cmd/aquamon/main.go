// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Command aquamon runs the water-quality monitor, its relay and a simulated
// device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aquamon/aquamon/config"
	"github.com/aquamon/aquamon/store/mqttstore"
	"github.com/lmittmann/tint"
)

const usage = `usage: aquamon [flags] <command> [args]

commands:
  relay              run the embedded MQTT relay
  monitor            follow telemetry and serve the HTTP API
  simulate           play the device against the relay
  send <token>       dispatch one command and wait for acknowledgment
  history [-since T] print the bootstrapped reading history

flags:
`

type app struct {
	cfg config.Config
	log *slog.Logger
}

func main() {
	flags := flag.NewFlagSet("aquamon", flag.ExitOnError)
	cfgPath := flags.String("config", "", "YAML configuration file")
	envPath := flags.String("env", ".env", "dotenv file; ignored if missing")
	level := flags.String("log-level", "", "override the configured log level")
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usage)
		flags.PrintDefaults()
	}
	check(flags.Parse(os.Args[1:]))

	cfg := must(config.Load(*cfgPath, *envPath))
	if *level != "" {
		cfg.Log.Level = *level
	}

	a := &app{cfg: cfg, log: newLogger(cfg.Log.Level)}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "relay":
		err = a.relay(ctx)
	case "monitor":
		err = a.monitor(ctx)
	case "simulate":
		err = a.simulate(ctx)
	case "send":
		err = a.send(ctx, args[1:])
	case "history":
		err = a.history(ctx, args[1:])
	default:
		flags.Usage()
		os.Exit(2)
	}
	if err != nil {
		a.log.Error(args[0]+" failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      l,
		TimeFormat: time.TimeOnly,
	}))
}

// Connect to the configured relay.
func (a *app) store(ctx context.Context) (*mqttstore.Store, error) {
	opts := []mqttstore.Option{
		mqttstore.WithSettleTime(a.cfg.Relay.SettleTime),
		mqttstore.WithKeepAlive(a.cfg.Relay.KeepAlive),
		mqttstore.WithLogger(a.log),
	}
	if a.cfg.Relay.ClientID != "" {
		opts = append(opts, mqttstore.WithClientID(a.cfg.Relay.ClientID))
	}

	s := mqttstore.New(
		mqttstore.TCPConnection(a.cfg.Relay.Host, a.cfg.Relay.Port),
		opts...,
	)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func check(e error) {
	if e != nil {
		panic(e)
	}
}

func must[T any](t T, e error) T {
	check(e)
	return t
}
