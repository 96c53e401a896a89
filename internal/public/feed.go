// Package public consumes the authority's unauthenticated read-only
// surface: a snapshot endpoint plus a read-only stream carrying only
// identity, status, live-flow and ranking-input fields. There is no
// command channel on this surface.
package public

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/boxstate"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/transport"
)

// Doer issues one HTTP request; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes the feed.
type Config struct {
	StreamURL    string
	SnapshotURL  string
	PollInterval time.Duration

	// Channel overrides the stream channel tuning; zero value means
	// transport defaults for StreamURL.
	Channel transport.Config
}

func DefaultConfig(streamURL, snapshotURL string) Config {
	return Config{
		StreamURL:    streamURL,
		SnapshotURL:  snapshotURL,
		PollInterval: 5 * time.Second,
	}
}

// Feed keeps a store fresh from the public surface. While the stream is
// unavailable it polls the snapshot endpoint on a fixed interval; polling
// stops as soon as the stream reconnects.
type Feed struct {
	cfg     Config
	store   *boxstate.Store
	doer    Doer
	clock   clockwork.Clock
	channel *transport.Channel

	streamUp atomic.Bool
}

// Option adjusts a Feed at construction.
type Option func(*feedOptions)

type feedOptions struct {
	doer   Doer
	clock  clockwork.Clock
	dialer transport.Dialer
}

func WithDoer(d Doer) Option                 { return func(o *feedOptions) { o.doer = d } }
func WithClock(clock clockwork.Clock) Option { return func(o *feedOptions) { o.clock = clock } }
func WithDialer(d transport.Dialer) Option   { return func(o *feedOptions) { o.dialer = d } }

func NewFeed(cfg Config, store *boxstate.Store, opts ...Option) *Feed {
	var o feedOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.doer == nil {
		o.doer = &http.Client{Timeout: 10 * time.Second}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	f := &Feed{
		cfg:   cfg,
		store: store,
		doer:  o.doer,
		clock: o.clock,
	}

	chCfg := cfg.Channel
	if chCfg.URL == "" {
		chCfg = transport.DefaultConfig(cfg.StreamURL)
	}
	chOpts := []transport.Option{
		transport.WithClock(o.clock),
		transport.WithStateFunc(f.onState),
	}
	if o.dialer != nil {
		chOpts = append(chOpts, transport.WithDialer(o.dialer))
	}
	f.channel = transport.NewChannel(chCfg, f.onMessage, chOpts...)
	return f
}

// StreamUp reports whether the read-only stream is currently open.
func (f *Feed) StreamUp() bool {
	return f.streamUp.Load()
}

// Run drives the stream and the polling fallback until the context is
// cancelled. A stream whose circuit opens degrades the feed to
// polling-only rather than stopping it.
func (f *Feed) Run(ctx context.Context) error {
	go func() {
		err := f.channel.Run(ctx)
		if errors.Is(err, transport.ErrCircuitOpen) {
			log.Error().Msg("public stream circuit open, feed degraded to polling")
		}
	}()

	ticker := f.clock.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if !f.streamUp.Load() {
				f.pollOnce(ctx)
			}
		}
	}
}

func (f *Feed) onState(s transport.State) {
	f.streamUp.Store(s == transport.StateOpen)
}

func (f *Feed) onMessage(msg protocol.Inbound) {
	if snap, ok := msg.(*protocol.BoxSnapshot); ok {
		f.store.ApplySnapshot(snap)
	}
}

func (f *Feed) pollOnce(ctx context.Context) {
	snaps, err := f.fetchSnapshots(ctx)
	if err != nil {
		log.Warn().Err(err).Str("url", f.cfg.SnapshotURL).Msg("snapshot poll failed")
		return
	}
	for i := range snaps {
		f.store.ApplySnapshot(&snaps[i])
	}
	log.Debug().Int("boxes", len(snaps)).Msg("applied polled snapshots")
}

func (f *Feed) fetchSnapshots(ctx context.Context) ([]protocol.BoxSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.SnapshotURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %d", resp.StatusCode)
	}

	var snaps []protocol.BoxSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snaps); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return snaps, nil
}
