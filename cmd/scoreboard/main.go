package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/boxstate"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/dispatch"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/public"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/ranking"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/surfacebus"
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/transport"
)

// timerHint is the optimistic timer command other surfaces publish on the
// bus; this daemon mirrors it locally and relays the real command.
type timerHint struct {
	BoxID int    `json:"boxId"`
	Op    string `json:"op"` // start|stop|resume
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().
		Str("authority", cfg.Authority.BaseURL).
		Str("stream", cfg.Authority.StreamURL).
		Str("surface_id", cfg.SurfaceID).
		Msg("starting scoreboard client")

	store := boxstate.NewStore()

	bus, err := buildBus(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to join surface bus")
	}
	defer bus.Close()

	dispatcher := dispatch.New(dispatchConfig(cfg), store)

	channel := transport.NewChannel(
		transport.DefaultConfig(cfg.Authority.StreamURL),
		func(msg protocol.Inbound) {
			if snap, ok := msg.(*protocol.BoxSnapshot); ok {
				store.ApplySnapshot(snap)
			}
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return channel.Run(ctx) })

	if cfg.Public.SnapshotURL != "" {
		feedCfg := public.DefaultConfig(cfg.Public.StreamURL, cfg.Public.SnapshotURL)
		feedCfg.PollInterval = time.Duration(cfg.Public.PollIntervalSec) * time.Second
		feed := public.NewFeed(feedCfg, store)
		g.Go(func() error { return feed.Run(ctx) })
	}

	g.Go(func() error { return runStandings(ctx, store, bus) })
	g.Go(func() error { return runTimerRelay(ctx, store, bus, dispatcher) })

	if err := g.Wait(); !isShutdown(err) {
		log.Fatal().Err(err).Msg("scoreboard client failed")
	}
	log.Info().Msg("scoreboard client shutdown complete")
}

// isShutdown reports whether the run loop ended by signal-driven
// cancellation rather than a real failure. The group cancels the shared
// context as soon as any goroutine errors, so ctx.Err() cannot tell the
// two apart; the group's own error can. A circuit-open channel is a real
// failure and must reach the operator.
func isShutdown(err error) bool {
	return err == nil || errors.Is(err, context.Canceled)
}

func buildBus(cfg *Config) (surfacebus.Bus, error) {
	if cfg.NATS.URL != "" {
		log.Info().Str("nats_url", cfg.NATS.URL).Msg("joining venue surface bus")
		return surfacebus.ConnectNATS(cfg.NATS.URL, cfg.SurfaceID)
	}
	return surfacebus.NewHub().Surface(cfg.SurfaceID), nil
}

func dispatchConfig(cfg *Config) dispatch.Config {
	dcfg := dispatch.DefaultConfig(cfg.Authority.BaseURL)
	if len(cfg.Dispatch.RecoverOnConflict) > 0 {
		dcfg.RecoverOnConflict = make(map[protocol.CommandType]bool, len(cfg.Dispatch.RecoverOnConflict))
		for _, name := range cfg.Dispatch.RecoverOnConflict {
			dcfg.RecoverOnConflict[protocol.CommandType(name)] = true
		}
	}
	return dcfg
}

// runStandings recomputes standings on every store update and mirrors the
// authoritative patch to the other surfaces.
func runStandings(ctx context.Context, store *boxstate.Store, bus surfacebus.Bus) error {
	updates := store.Subscribe(64)
	defer store.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			rows := ranking.ComputeBox(&u.Box)
			event := log.Info().
				Int("box_id", u.BoxID).
				Int64("version", u.Box.Version).
				Int("ranked", len(rows))
			if len(rows) > 0 {
				event = event.
					Str("leader", rows[0].Name).
					Float64("leader_total", rows[0].Total)
			}
			event.Msg("standings updated")

			patch, err := json.Marshal(u.Box)
			if err != nil {
				log.Error().Err(err).Msg("marshal state patch")
				continue
			}
			if err := bus.Publish(surfacebus.TopicState, patch); err != nil {
				log.Warn().Err(err).Msg("publish state patch")
			}
		}
	}
}

// runTimerRelay mirrors timer hints from other surfaces into the local
// store immediately and relays the real command to the authority. The
// optimistic write lasts only until the next authoritative snapshot.
func runTimerRelay(ctx context.Context, store *boxstate.Store, bus surfacebus.Bus, dispatcher *dispatch.Dispatcher) error {
	hints := make(chan timerHint, 16)
	unsubscribe, err := bus.Subscribe(surfacebus.TopicTimer, func(msg surfacebus.Message) {
		var hint timerHint
		if err := json.Unmarshal(msg.Data, &hint); err != nil {
			log.Debug().Err(err).Msg("dropping malformed timer hint")
			return
		}
		select {
		case hints <- hint:
		default:
			log.Warn().Int("box_id", hint.BoxID).Msg("timer hint queue full, dropping")
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	ops := map[string]struct {
		cmd   protocol.CommandType
		state protocol.TimerState
	}{
		"start":  {protocol.CmdStartTimer, protocol.TimerRunning},
		"stop":   {protocol.CmdStopTimer, protocol.TimerPaused},
		"resume": {protocol.CmdResumeTimer, protocol.TimerRunning},
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case hint := <-hints:
			op, ok := ops[hint.Op]
			if !ok {
				log.Debug().Str("op", hint.Op).Msg("unknown timer hint op")
				continue
			}

			store.ApplyLocal(hint.BoxID, func(b *boxstate.Box) {
				b.TimerState = op.state
			})

			cmd, err := protocol.NewCommand(op.cmd, hint.BoxID, nil)
			if err != nil {
				log.Error().Err(err).Msg("build timer command")
				continue
			}
			if err := dispatcher.Submit(ctx, cmd); err != nil {
				log.Error().
					Err(err).
					Int("box_id", hint.BoxID).
					Str("op", hint.Op).
					Msg("timer command failed")
			}
		}
	}
}
