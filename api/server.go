// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package api serves the monitor over HTTP for presentation clients.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aquamon/aquamon/command"
	"github.com/aquamon/aquamon/internal/iso"
	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/monitor"
	"github.com/aquamon/aquamon/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type (
	// Monitor is the view of the device the server exposes.
	Monitor interface {
		Latest() (telemetry.Reading, bool)
		History() []telemetry.Reading
		Status() monitor.Status
		Dispatch(ctx context.Context, token string) *command.Pending
	}

	// Server is the HTTP surface of a monitor.
	Server struct {
		echo    *echo.Echo
		monitor Monitor
		log     log.Logger
	}

	// Dispatch is the response body for a command.
	Dispatch struct {
		ID      string `json:"id"`
		Command string `json:"command"`
		State   string `json:"state"`
		Error   string `json:"error,omitempty"`
	}
)

// New creates a server for m.
func New(m Monitor, opt ...Option) *Server {
	var opts Options
	opts.Apply(opt)

	s := &Server{
		echo:    echo.New(),
		monitor: m,
		log:     log.Wrap(opts.Logger),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(
			c echo.Context,
			v middleware.RequestLoggerValues,
		) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			ctx := c.Request().Context()
			if v.Error != nil {
				s.log.Err(ctx, "request failed", v.Error, attrs...)
			} else {
				s.log.Log(ctx, slog.LevelDebug, "request", attrs...)
			}
			return nil
		},
	}))
	s.echo.Use(middleware.Recover())

	s.echo.GET("/readings/latest", s.latest)
	s.echo.GET("/readings", s.history)
	s.echo.GET("/status", s.status)
	s.echo.POST("/commands/:token", s.dispatch)
	if opts.Gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}),
		))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) latest(c echo.Context) error {
	r, ok := s.monitor.Latest()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) history(c echo.Context) error {
	rs := s.monitor.History()

	if raw := c.QueryParam("since"); raw != "" {
		since, err := iso.ParseDateTime(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest,
				"since must be an ISO 8601 timestamp")
		}
		kept := rs[:0]
		for _, r := range rs {
			if !r.Timestamp.Before(since) {
				kept = append(kept, r)
			}
		}
		rs = kept
	}
	return c.JSON(http.StatusOK, rs)
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.Status())
}

func (s *Server) dispatch(c echo.Context) error {
	ctx := c.Request().Context()

	// The dispatch is not tied to the request; a caller that gives up
	// waiting leaves it running.
	p := s.monitor.Dispatch(context.WithoutCancel(ctx), c.Param("token"))

	if c.QueryParam("wait") == "true" {
		if err := p.Wait(ctx); err != nil && p.Err() == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		if err := p.Err(); err != nil {
			return c.JSON(statusOf(err), body(p))
		}
		return c.JSON(http.StatusOK, body(p))
	}

	// Failures detected up front are reported right away.
	select {
	case <-p.Done():
		if err := p.Err(); err != nil {
			return c.JSON(statusOf(err), body(p))
		}
	default:
	}
	return c.JSON(http.StatusAccepted, body(p))
}

func body(p *command.Pending) Dispatch {
	d := Dispatch{
		ID:      p.ID,
		Command: p.Command,
		State:   p.State().String(),
	}
	if err := p.Err(); err != nil {
		d.Error = err.Error()
	}
	return d
}

func statusOf(err error) int {
	var e *command.Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case command.Busy:
		return http.StatusConflict
	case command.Timeout:
		return http.StatusGatewayTimeout
	case command.WriteFailed, command.WatchFailed:
		return http.StatusBadGateway
	case command.Argument:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
