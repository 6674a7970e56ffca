// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package relay

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/aquamon/aquamon/internal/log"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Session hook that records which clients are attached to the relay.
type sessionHook struct {
	mochi.HookBase
	log      log.Logger
	sessions *sessions
}

func (*sessionHook) ID() string {
	return "aquamon-sessions"
}

func (*sessionHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mochi.OnSessionEstablished,
		mochi.OnDisconnect,
	}, []byte{b})
}

func (h *sessionHook) OnSessionEstablished(cl *mochi.Client, _ packets.Packet) {
	n := h.sessions.add(cl)
	h.log.Log(context.Background(), slog.LevelInfo, "session established",
		slog.String("client_id", cl.ID),
		slog.String("remote", cl.Net.Remote),
		slog.Int("sessions", n),
	)
}

func (h *sessionHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	n := h.sessions.remove(cl)
	attrs := []slog.Attr{
		slog.String("client_id", cl.ID),
		slog.Bool("expire", expire),
		slog.Int("sessions", n),
	}
	if err != nil {
		h.log.Err(context.Background(), "session ended", err, attrs...)
		return
	}
	h.log.Log(context.Background(), slog.LevelInfo, "session ended", attrs...)
}
