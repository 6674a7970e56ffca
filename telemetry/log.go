// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/aquamon/aquamon/internal/log"
)

type logger struct{ log.Logger }

func (l logger) bootstrapped(ctx context.Context, path string, n int) {
	l.Log(ctx, slog.LevelInfo, "history bootstrapped",
		slog.String("path", path),
		slog.Int("readings", n),
	)
}

func (l logger) resubscribed(ctx context.Context, path string) {
	l.Log(ctx, slog.LevelInfo, "live subscription restored",
		slog.String("path", path))
}

func (l logger) reading(ctx context.Context, key string) {
	l.Log(ctx, slog.LevelDebug, "reading received", slog.String("key", key))
}

func (l logger) duplicate(ctx context.Context, key string) {
	l.Log(ctx, slog.LevelDebug, "reading already seen", slog.String("key", key))
}

func (l logger) stopped(ctx context.Context) {
	l.Log(ctx, slog.LevelInfo, "telemetry engine stopped")
}

func (l logger) resynced(ctx context.Context, path string, added int) {
	l.Log(ctx, slog.LevelInfo, "history resynced",
		slog.String("path", path),
		slog.Int("added", added),
	)
}
