// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/aquamon/aquamon/internal/log"
)

type logger struct{ log.Logger }

func (l logger) written(ctx context.Context, cmd, id string) {
	l.Log(ctx, slog.LevelDebug, "command written",
		slog.String("command", cmd),
		slog.String("id", id),
	)
}

func (l logger) acknowledged(
	ctx context.Context,
	cmd, id string,
	elapsed time.Duration,
) {
	l.Log(ctx, slog.LevelInfo, "command acknowledged",
		slog.String("command", cmd),
		slog.String("id", id),
		slog.Duration("elapsed", elapsed),
	)
}

func (l logger) ignored(ctx context.Context, cmd, value string) {
	l.Log(ctx, slog.LevelDebug, "ignoring command path value",
		slog.String("command", cmd),
		slog.String("value", value),
	)
}

func (l logger) busy(ctx context.Context, cmd string) {
	l.Log(ctx, slog.LevelWarn, "command path busy",
		slog.String("command", cmd))
}
