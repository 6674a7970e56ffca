// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package mqttstore implements store.Store over an MQTT v5 relay broker, where
// the store state is the set of retained messages. A scalar path maps to the
// topic of the same name and the child key of a collection maps to the topic
// path/key.
package mqttstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aquamon/aquamon/internal/log"
	"github.com/aquamon/aquamon/internal/wallclock"
	"github.com/aquamon/aquamon/store"
	"github.com/aquamon/aquamon/store/errors"
	"github.com/aquamon/aquamon/store/internal/feed"
	"github.com/eclipse/paho.golang/paho"
)

type (
	// Store is a store.Store backed by an MQTT connection. The connection is
	// established lazily and re-established by the next operation after it
	// drops; subscriptions do not survive a drop.
	Store struct {
		connect ConnectionProvider
		opts    Options
		log     logger

		// Serializes connection attempts; never held with mu.
		dial sync.Mutex

		client  *paho.Client
		gen     uint64
		dials   uint64
		watches map[*watch]struct{}
		filters map[string]int
		closed  bool
		mu      sync.Mutex
	}

	watch struct {
		path     string
		children bool
		feed     *feed.Feed[store.Event]
	}
)

var _ store.Store = (*Store)(nil)

// New creates a store that connects through the given provider.
func New(connect ConnectionProvider, opt ...Option) *Store {
	var opts Options
	opts.Apply(opt)
	opts.defaults()

	return &Store{
		connect: connect,
		opts:    opts,
		log:     logger{log.Wrap(opts.Logger)},
		watches: map[*watch]struct{}{},
		filters: map[string]int{},
	}
}

// Connect establishes the connection eagerly. Other operations connect on
// demand, so calling this is optional.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.ensure(ctx)
	return err
}

// Get implements store.Store by collecting the retained value for the path.
func (s *Store) Get(
	ctx context.Context,
	path string,
) ([]byte, bool, error) {
	p, err := store.NormalizePath(path)
	if err != nil {
		return nil, false, err
	}

	var val []byte
	var ok bool
	err = s.collect(ctx, "get", p, false, func(ev store.Event) {
		val, ok = ev.Value, len(ev.Value) > 0
	})
	if err != nil {
		return nil, false, err
	}
	return val, ok, nil
}

// Set implements store.Store by publishing a retained message.
func (s *Store) Set(ctx context.Context, path string, value []byte) error {
	p, err := store.NormalizePath(path)
	if err != nil {
		return err
	}
	return s.publish(ctx, "set", p, value)
}

// Put implements store.Store by publishing a retained message on the child
// topic.
func (s *Store) Put(
	ctx context.Context,
	path, key string,
	value []byte,
) error {
	p, err := store.NormalizePath(path)
	if err != nil {
		return err
	}
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	return s.publish(ctx, "put", store.Join(p, key), value)
}

// Last implements store.Store by collecting the retained children of the path
// and keeping the n greatest keys.
func (s *Store) Last(
	ctx context.Context,
	path string,
	n int,
) ([]store.Record, error) {
	if n < 0 {
		return nil, errors.Argument{Name: "n", Value: n}
	}
	p, err := store.NormalizePath(path)
	if err != nil {
		return nil, err
	}

	kids := map[string][]byte{}
	err = s.collect(ctx, "last", p, true, func(ev store.Event) {
		if len(ev.Value) == 0 {
			delete(kids, ev.Key)
			return
		}
		kids[ev.Key] = ev.Value
	})
	if err != nil {
		return nil, err
	}

	recs := make([]store.Record, 0, len(kids))
	for k, v := range kids {
		recs = append(recs, store.Record{Key: k, Value: v})
	}
	store.SortRecords(recs)
	return store.Tail(recs, n), nil
}

// WatchValue implements store.Store.
func (s *Store) WatchValue(
	ctx context.Context,
	path string,
) (<-chan store.Event, func(), error) {
	p, err := store.NormalizePath(path)
	if err != nil {
		return nil, nil, err
	}
	w, done, err := s.watch(ctx, p, false)
	if err != nil {
		return nil, nil, err
	}
	return w.feed.C(), done, nil
}

// WatchChildren implements store.Store. The broker replays every retained
// child on subscription, so existing children always precede new ones.
func (s *Store) WatchChildren(
	ctx context.Context,
	path string,
) (<-chan store.Event, func(), error) {
	p, err := store.NormalizePath(path)
	if err != nil {
		return nil, nil, err
	}
	w, done, err := s.watch(ctx, p, true)
	if err != nil {
		return nil, nil, err
	}
	return w.feed.C(), done, nil
}

// Close terminates all subscriptions and disconnects.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	client := s.client
	s.client = nil
	s.terminate(errors.ErrClosed)
	s.mu.Unlock()

	if client != nil {
		return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	return nil
}

// Return the live client, connecting if necessary.
func (s *Store) ensure(ctx context.Context) (*paho.Client, error) {
	s.dial.Lock()
	defer s.dial.Unlock()

	s.mu.Lock()
	client, closed := s.client, s.closed
	s.dials++
	gen := s.dials
	s.mu.Unlock()

	switch {
	case closed:
		return nil, errors.ErrClosed
	case client != nil:
		return client, nil
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	client = paho.NewClient(paho.ClientConfig{
		ClientID: s.opts.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				s.log.packet(context.Background(), "received", pr.Packet)
				s.route(pr.Packet)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			s.lost(gen, err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.lost(gen, fmt.Errorf("server disconnect: reason %d", d.ReasonCode))
		},
	})

	cp := &paho.Connect{
		ClientID:   s.opts.ClientID,
		KeepAlive:  s.opts.KeepAlive,
		CleanStart: true,
	}
	s.log.packet(ctx, "connect", cp)
	if _, err := client.Connect(ctx, cp); err != nil {
		_ = conn.Close()
		return nil, &errors.Unavailable{Op: "connect", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, errors.ErrClosed
	}
	// Only errors from the installed client may tear down state.
	s.gen = gen
	s.client = client
	s.log.connected(ctx, s.opts.ClientID)
	return client, nil
}

// Handle connection loss for the client of the given generation.
func (s *Store) lost(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.client == nil {
		return
	}
	s.client = nil
	s.log.lost(context.Background(), cause)
	s.terminate(cause)
}

// Must be called with mu held.
func (s *Store) terminate(cause error) {
	for w := range s.watches {
		err := cause
		if err != errors.ErrClosed {
			err = &errors.Unavailable{Op: "watch", Path: w.path, Err: cause}
		}
		w.feed.Finish(store.Event{Path: w.path, Err: err})
	}
	clear(s.watches)
	clear(s.filters)
}

func (s *Store) publish(
	ctx context.Context,
	op, topic string,
	value []byte,
) error {
	client, err := s.ensure(ctx)
	if err != nil {
		return err
	}

	pub := &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  true,
		Payload: value,
	}
	s.log.packet(ctx, "publish", pub)
	if _, err := client.Publish(ctx, pub); err != nil {
		return &errors.Unavailable{Op: op, Path: topic, Err: err}
	}
	return nil
}

// Open a subscription for path, routing its messages to a new watch.
func (s *Store) watch(
	ctx context.Context,
	path string,
	children bool,
) (*watch, func(), error) {
	client, err := s.ensure(ctx)
	if err != nil {
		return nil, nil, err
	}

	w := &watch{path: path, children: children, feed: feed.New[store.Event]()}
	filter := filterFor(path, children)

	s.mu.Lock()
	if s.client != client {
		s.mu.Unlock()
		w.feed.Close()
		return nil, nil, &errors.Unavailable{Op: "watch", Path: path}
	}
	s.watches[w] = struct{}{}
	s.filters[filter]++
	s.mu.Unlock()

	done := sync.OnceFunc(func() { s.unwatch(client, w, filter) })

	// Subscribing again on an already-subscribed filter makes the broker
	// resend its retained messages, so existing watches on the same filter
	// may observe repeated values.
	suback, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: filter, QoS: 1}},
	})
	if err == nil && len(suback.Reasons) > 0 && suback.Reasons[0] >= 0x80 {
		err = fmt.Errorf("subscription refused: reason %d", suback.Reasons[0])
	}
	if err != nil {
		done()
		return nil, nil, &errors.Unavailable{Op: "watch", Path: path, Err: err}
	}
	s.log.subscribed(ctx, filter)
	return w, done, nil
}

func (s *Store) unwatch(client *paho.Client, w *watch, filter string) {
	s.mu.Lock()
	_, live := s.watches[w]
	delete(s.watches, w)
	last := false
	if live {
		s.filters[filter]--
		last = s.filters[filter] == 0
		if last {
			delete(s.filters, filter)
		}
	}
	current := s.client == client
	s.mu.Unlock()

	w.feed.Close()

	if last && current {
		ctx, cancel := wallclock.Instance.WithTimeoutCause(
			context.Background(),
			s.opts.SettleTime*4,
			&errors.Unavailable{Op: "unwatch", Path: w.path},
		)
		defer cancel()
		if _, err := client.Unsubscribe(ctx, &paho.Unsubscribe{
			Topics: []string{filter},
		}); err != nil {
			s.log.Err(ctx, "unsubscribe failed", err)
		}
	}
}

// Subscribe briefly and feed every retained message to fn until the relay
// goes quiet for the settle time.
func (s *Store) collect(
	ctx context.Context,
	op, path string,
	children bool,
	fn func(store.Event),
) error {
	w, done, err := s.watch(ctx, path, children)
	if err != nil {
		return err
	}
	defer done()

	ch := w.feed.C()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return &errors.Unavailable{Op: op, Path: path}
			}
			if ev.Err != nil {
				return ev.Err
			}
			fn(ev)
		case <-wallclock.Instance.After(s.opts.SettleTime):
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Route an inbound publish to every matching watch.
func (s *Store) route(pub *paho.Publish) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for w := range s.watches {
		key, ok := match(w, pub.Topic)
		if !ok {
			continue
		}
		w.feed.Push(store.Event{
			Path:  w.path,
			Key:   key,
			Value: bytes.Clone(pub.Payload),
		})
	}
}

func filterFor(path string, children bool) string {
	if children {
		return path + "/+"
	}
	return path
}

func match(w *watch, topic string) (string, bool) {
	if !w.children {
		return "", topic == w.path
	}
	key, ok := strings.CutPrefix(topic, w.path+"/")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}
