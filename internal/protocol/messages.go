package protocol

import (
	"encoding/json"
	"fmt"
)

// Message type tags on the authority's stream.
const (
	TypeBoxUpdate = "boxUpdate"
	TypeHeartbeat = "heartbeat"
)

// TimerState is the lifecycle of a box timer.
type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerPaused  TimerState = "paused"
)

// BaseMessage lets us route unknown JSON frames by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Inbound is implemented by every message the authority pushes on a stream.
type Inbound interface{ isInbound() }

// BoxSnapshot carries the authoritative state of one box. The first message
// after a (re)connect is a snapshot and replaces the local record outright.
type BoxSnapshot struct {
	Type           string            `json:"type"`
	BoxID          int               `json:"boxId"`
	Category       string            `json:"category,omitempty"`
	Initiated      bool              `json:"initiated"`
	RouteIndex     int               `json:"routeIndex"`
	RoutesCount    int               `json:"routesCount"`
	Holds          []int             `json:"holds,omitempty"`
	Climber        string            `json:"climber,omitempty"`
	Preparing      string            `json:"preparing,omitempty"`
	TimerState     TimerState        `json:"timerState"`
	RemainingSec   int               `json:"remainingSec"`
	TimerPresetSec int               `json:"timerPresetSec,omitempty"`
	TimeCriterion  bool              `json:"timeCriterion"`
	Version        int64             `json:"version"`
	SessionToken   string            `json:"sessionToken,omitempty"`
	Competitors    []CompetitorState `json:"competitors,omitempty"`
}

// CompetitorState is one roster entry inside a snapshot. Score and time
// series are per-route; nil means the route has not been attempted.
type CompetitorState struct {
	Name   string     `json:"name"`
	Scores []*float64 `json:"scores,omitempty"`
	Times  []*float64 `json:"times,omitempty"`
	Marked bool       `json:"marked,omitempty"`
}

// Heartbeat is the authority's liveness probe. The client echoes it back
// immediately with the same timestamp.
type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"ts"`
}

func (*BoxSnapshot) isInbound() {}
func (*Heartbeat) isInbound()   {}

// DecodeInbound routes a raw frame by its type tag, validates it against
// the embedded schema and unmarshals it into the typed message. Unknown
// types and frames failing validation return an error; callers drop them.
func DecodeInbound(b []byte) (Inbound, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch base.Type {
	case TypeBoxUpdate:
		if err := ValidateInbound(TypeBoxUpdate, b); err != nil {
			return nil, err
		}
		var snap BoxSnapshot
		if err := json.Unmarshal(b, &snap); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", TypeBoxUpdate, err)
		}
		return &snap, nil

	case TypeHeartbeat:
		if err := ValidateInbound(TypeHeartbeat, b); err != nil {
			return nil, err
		}
		var hb Heartbeat
		if err := json.Unmarshal(b, &hb); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", TypeHeartbeat, err)
		}
		return &hb, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", base.Type)
	}
}
