// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package config loads aquamon settings from YAML, a .env file and AQUAMON_*
// environment variables, in increasing order of precedence.
package config

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/aquamon/aquamon/internal/iso"
	"github.com/iancoleman/strcase"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// Config is the complete aquamon configuration.
	Config struct {
		Relay    Relay    `yaml:"relay"`
		Readings Readings `yaml:"readings"`
		Commands Commands `yaml:"commands"`
		Device   Device   `yaml:"device"`
		HTTP     HTTP     `yaml:"http"`
		Log      Log      `yaml:"log"`
	}

	// Relay locates the MQTT relay.
	Relay struct {
		Host       string       `yaml:"host"`
		Port       int          `yaml:"port"`
		Listen     string       `yaml:"listen"`
		ClientID   string       `yaml:"client_id"`
		KeepAlive  int          `yaml:"keep_alive"`
		SettleTime iso.Duration `yaml:"settle_time"`
	}

	// Readings configures the telemetry engine.
	Readings struct {
		Path           string `yaml:"path"`
		BootstrapLimit int    `yaml:"bootstrap_limit"`
		Capacity       int    `yaml:"capacity"`
	}

	// Commands configures the command dispatcher.
	Commands struct {
		Path    string       `yaml:"path"`
		Timeout iso.Duration `yaml:"timeout"`
		Tokens  []string     `yaml:"tokens"`
	}

	// Device configures the device simulator.
	Device struct {
		Interval iso.Duration `yaml:"interval"`
		AckDelay iso.Duration `yaml:"ack_delay"`
	}

	// HTTP configures the API server.
	HTTP struct {
		Listen string `yaml:"listen"`
	}

	// Log configures logging.
	Log struct {
		Level string `yaml:"level"`
	}
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AQUAMON"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Relay: Relay{
			Host:       "localhost",
			Port:       1883,
			Listen:     ":1883",
			KeepAlive:  30,
			SettleTime: iso.Duration(250 * time.Millisecond),
		},
		Readings: Readings{
			Path:           "/device1/readings",
			BootstrapLimit: 10,
			Capacity:       1024,
		},
		Commands: Commands{
			Path:    "/device1/command",
			Timeout: iso.Duration(30 * time.Second),
			Tokens:  []string{"fill", "drain"},
		},
		Device: Device{
			Interval: iso.Duration(5 * time.Second),
			AckDelay: iso.Duration(time.Second),
		},
		HTTP: HTTP{Listen: ":8080"},
		Log:  Log{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the YAML file; a missing
// dotenv file is ignored.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return Config{}, fmt.Errorf("config: load: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil &&
			!errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: dotenv: %w", err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from variables named AQUAMON_<SECTION>_<FIELD>,
// e.g. AQUAMON_COMMANDS_TIMEOUT. Lists are comma-separated.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	root := reflect.ValueOf(cfg).Elem()
	for i := range root.NumField() {
		section := root.Type().Field(i)
		sv := root.Field(i)
		for j := range sv.NumField() {
			field := sv.Type().Field(j)
			name := EnvName(section.Name, field.Name)
			raw, ok := lookup(name)
			if !ok {
				continue
			}
			if err := setField(sv.Field(j), raw); err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
		}
	}
	return nil
}

// EnvName returns the environment variable that overrides a field.
func EnvName(section, field string) string {
	return EnvPrefix + "_" + strcase.ToScreamingSnake(section) + "_" +
		strcase.ToScreamingSnake(field)
}

func setField(v reflect.Value, raw string) error {
	if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(raw))
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(n))
	case reflect.Slice:
		var items []string
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}

// Validate checks the configuration for values no component can use.
func (c Config) Validate() error {
	var errs []error
	if c.Relay.Port <= 0 || c.Relay.Port > 65535 {
		errs = append(errs, fmt.Errorf("relay port %d out of range", c.Relay.Port))
	}
	if c.Relay.KeepAlive < 0 || c.Relay.KeepAlive > 65535 {
		errs = append(errs,
			fmt.Errorf("relay keep_alive %d out of range", c.Relay.KeepAlive))
	}
	if c.Readings.BootstrapLimit < 0 {
		errs = append(errs, errors.New("readings bootstrap_limit is negative"))
	}
	if c.Readings.Capacity < 0 {
		errs = append(errs, errors.New("readings capacity is negative"))
	}
	if c.Commands.Timeout < 0 {
		errs = append(errs, errors.New("commands timeout is negative"))
	}
	if len(c.Commands.Tokens) == 0 {
		errs = append(errs, errors.New("commands tokens is empty"))
	}
	for _, t := range c.Commands.Tokens {
		if t == "ack" {
			errs = append(errs, errors.New(`commands tokens cannot include "ack"`))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
