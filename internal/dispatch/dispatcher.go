package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/boxstate"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

// Doer issues one HTTP request; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Credentials holds the authority session. Cleared as a side effect of a
// 401/403 so the caller is forced to re-authenticate.
type Credentials struct {
	mu    sync.Mutex
	token string
}

func (c *Credentials) Set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Credentials) Get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Credentials) Clear() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Config tunes the dispatcher.
type Config struct {
	BaseURL        string
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration

	// RecoverOnConflict selects the command types that, on a stale
	// version/session rejection, refetch authoritative state and resubmit
	// exactly once. The original client recovered only the progress path;
	// the set is configuration pending product review of whether that
	// asymmetry was intentional.
	RecoverOnConflict map[protocol.CommandType]bool
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		MaxAttempts:    3,
		BaseDelay:      time.Second,
		AttemptTimeout: 5 * time.Second,
		RecoverOnConflict: map[protocol.CommandType]bool{
			protocol.CmdProgress: true,
		},
	}
}

// Dispatcher submits mutating commands to the remote authority. It
// attaches the target box's current concurrency version and session token,
// bounds each network attempt, retries transient failures with exponential
// backoff and surfaces everything else unchanged. A command that exhausts
// its retries returns the last error; it is never dropped silently.
type Dispatcher struct {
	cfg   Config
	doer  Doer
	store *boxstate.Store
	creds *Credentials
	clock clockwork.Clock
}

// Option adjusts a Dispatcher at construction.
type Option func(*Dispatcher)

func WithDoer(d Doer) Option                 { return func(dp *Dispatcher) { dp.doer = d } }
func WithClock(clock clockwork.Clock) Option { return func(dp *Dispatcher) { dp.clock = clock } }
func WithCredentials(c *Credentials) Option  { return func(dp *Dispatcher) { dp.creds = c } }

func New(cfg Config, store *boxstate.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:   cfg,
		store: store,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.doer == nil {
		d.doer = &http.Client{}
	}
	if d.creds == nil {
		d.creds = &Credentials{}
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	return d
}

// Credentials exposes the session holder so the wiring can seed it.
func (d *Dispatcher) Credentials() *Credentials {
	return d.creds
}

// Submit sends one command. Version and session token are read from the
// store at submission time; for command types in the recovery set a stale
// rejection triggers one refetch-and-resubmit cycle.
func (d *Dispatcher) Submit(ctx context.Context, cmd protocol.Command) error {
	d.attachTokens(&cmd)

	err := d.submitWithRetry(ctx, cmd)
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrConflict) && d.cfg.RecoverOnConflict[cmd.Type] {
		log.Info().
			Str("command", string(cmd.Type)).
			Int("box_id", cmd.BoxID).
			Msg("stale rejection, refetching state and resubmitting once")
		if rerr := d.Refetch(ctx, cmd.BoxID); rerr != nil {
			return fmt.Errorf("refetch after conflict: %w", rerr)
		}
		d.attachTokens(&cmd)
		return d.submitWithRetry(ctx, cmd)
	}
	return err
}

// Refetch pulls the authoritative state of one box and installs it in the
// store, refreshing the local version and session token.
func (d *Dispatcher) Refetch(ctx context.Context, boxID int) error {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/boxes/%d", d.cfg.BaseURL, boxID)
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	d.setHeaders(req)

	resp, err := d.doer.Do(req)
	if err != nil {
		return fmt.Errorf("fetch box %d: %w", boxID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServerError{Status: resp.StatusCode, Reason: readReason(resp.Body)}
	}

	var snap protocol.BoxSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode box %d snapshot: %w", boxID, err)
	}
	d.store.ApplySnapshot(&snap)
	return nil
}

func (d *Dispatcher) attachTokens(cmd *protocol.Command) {
	if version, token, ok := d.store.Credentials(cmd.BoxID); ok {
		cmd.Version = version
		cmd.SessionToken = token
	}
}

func (d *Dispatcher) submitWithRetry(ctx context.Context, cmd protocol.Command) error {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := d.cfg.BaseDelay << (attempt - 2) // 1s, 2s, ...
			log.Debug().
				Str("command", string(cmd.Type)).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying after transient failure")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-d.clock.After(delay):
			}
		}

		err := d.attempt(ctx, cmd)
		if err == nil {
			return nil
		}
		if !transient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("command %s for box %d failed after %d attempts: %w",
		cmd.Type, cmd.BoxID, d.cfg.MaxAttempts, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, cmd protocol.Command) error {
	actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	req, err := http.NewRequestWithContext(actx, http.MethodPost, d.cfg.BaseURL+"/api/commands", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	d.setHeaders(req)

	resp, err := d.doer.Do(req)
	if err != nil {
		return fmt.Errorf("submit %s: %w", cmd.Type, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		d.creds.Clear()
		log.Warn().
			Int("status", resp.StatusCode).
			Str("command", string(cmd.Type)).
			Msg("session rejected, credentials cleared")
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrAuthRequired)

	case resp.StatusCode == http.StatusConflict:
		reason := readReason(resp.Body)
		if reason == "" {
			return ErrConflict
		}
		return fmt.Errorf("%s: %w", reason, ErrConflict)

	default:
		return &ServerError{Status: resp.StatusCode, Reason: readReason(resp.Body)}
	}
}

func (d *Dispatcher) setHeaders(req *http.Request) {
	if token := d.creds.Get(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// readReason extracts the server-provided reason from an error body,
// accepting either {"error": "..."} or plain text.
func readReason(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(data))
}
