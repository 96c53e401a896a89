package transport

import (
	"encoding/json"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

// Writer is the write half of a connection; Conn satisfies it.
type Writer interface {
	WriteMessage(data []byte) error
}

// HeartbeatResponder answers the authority's liveness probes. It is
// passive: it echoes every probe's timestamp immediately and never closes
// a connection over missed probes. One responder serves every channel in
// the process.
type HeartbeatResponder struct {
	clock clockwork.Clock
}

func NewHeartbeatResponder(clock clockwork.Clock) *HeartbeatResponder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HeartbeatResponder{clock: clock}
}

// Respond writes the echo for one probe back on the connection it arrived
// on, preserving the probe's timestamp.
func (h *HeartbeatResponder) Respond(w Writer, hb *protocol.Heartbeat) error {
	echo, err := json.Marshal(protocol.Heartbeat{
		Type:      protocol.TypeHeartbeat,
		Timestamp: hb.Timestamp,
	})
	if err != nil {
		return err
	}
	if err := w.WriteMessage(echo); err != nil {
		return err
	}
	log.Debug().
		Int64("probe_ts", hb.Timestamp).
		Time("echoed_at", h.clock.Now()).
		Msg("echoed heartbeat")
	return nil
}
