// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package relay runs the MQTT broker that carries the shared store. Retained
// messages on the broker are the store state, so the relay must outlive every
// client that reads or writes through it.
package relay

import (
	"slices"
	"sync"

	"github.com/aquamon/aquamon/internal/log"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
)

type (
	// Relay is an embedded MQTT v5 broker.
	Relay struct {
		broker   *mochi.Server
		listener *listeners.TCP
		sessions *sessions
	}

	// Attached clients, keyed by connection. A client that reconnects with
	// the same ID takes over its session, and the old connection may report
	// its disconnect after the new one is established.
	sessions struct {
		clients map[*mochi.Client]struct{}
		mu      sync.Mutex
	}
)

// New creates a relay that will listen on the given TCP address once served.
// Every client is admitted.
func New(addr string, opt ...Option) (*Relay, error) {
	var opts Options
	opts.Apply(opt)
	if opts.ListenerID == "" {
		opts.ListenerID = "tcp"
	}

	broker := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       opts.Logger,
	})
	r := &Relay{
		broker:   broker,
		sessions: &sessions{clients: map[*mochi.Client]struct{}{}},
	}

	if err := broker.AddHook(&auth.AllowHook{}, nil); err != nil {
		return nil, err
	}
	if err := broker.AddHook(&sessionHook{
		log:      log.Wrap(opts.Logger),
		sessions: r.sessions,
	}, nil); err != nil {
		return nil, err
	}

	r.listener = listeners.NewTCP(listeners.Config{
		ID:      opts.ListenerID,
		Address: addr,
	})
	if err := broker.AddListener(r.listener); err != nil {
		return nil, err
	}
	return r, nil
}

// Serve starts accepting connections. It does not block.
func (r *Relay) Serve() error {
	return r.broker.Serve()
}

// Addr returns the address the relay listens on; after Serve this is the bound
// address, which matters when the relay was created on port 0.
func (r *Relay) Addr() string {
	return r.listener.Address()
}

// Clients returns the IDs of currently attached clients, sorted.
func (r *Relay) Clients() []string {
	return r.sessions.list()
}

// Disconnect closes the connection of the client with the given ID, as an
// administrative action. It reports whether such a client was attached.
func (r *Relay) Disconnect(id string) bool {
	cl, ok := r.broker.Clients.Get(id)
	if !ok {
		return false
	}
	_ = r.broker.DisconnectClient(cl, packets.ErrAdministrativeAction)
	return true
}

// Close disconnects every client and stops listening.
func (r *Relay) Close() error {
	return r.broker.Close()
}

func (s *sessions) add(cl *mochi.Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[cl] = struct{}{}
	return len(s.clients)
}

func (s *sessions) remove(cl *mochi.Client) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, cl)
	return len(s.clients)
}

func (s *sessions) list() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.clients))
	for cl := range s.clients {
		ids = append(ids, cl.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
