package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CommandType tags an outbound mutating request.
type CommandType string

const (
	CmdInitRoute        CommandType = "initRoute"
	CmdStartTimer       CommandType = "startTimer"
	CmdStopTimer        CommandType = "stopTimer"
	CmdResumeTimer      CommandType = "resumeTimer"
	CmdProgress         CommandType = "progress"
	CmdRegisterTime     CommandType = "registerTime"
	CmdSubmitScore      CommandType = "submitScore"
	CmdRequestState     CommandType = "requestState"
	CmdResetBox         CommandType = "resetBox"
	CmdSetTimeCriterion CommandType = "setTimeCriterion"
	CmdSetTimerPreset   CommandType = "setTimerPreset"
	CmdTieBreak         CommandType = "tieBreak"
)

// Command is the envelope for every mutating request. Version and
// SessionToken are the optimistic-concurrency tokens: the authority rejects
// the command outright when either mismatches its current value for the box.
type Command struct {
	Type         CommandType     `json:"type"`
	BoxID        int             `json:"boxId"`
	Version      int64           `json:"version"`
	SessionToken string          `json:"sessionToken,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// NewCommand builds a command envelope. Version and session token are
// attached later by the dispatcher; payload may be nil for commands that
// carry none (timer ops, requestState).
func NewCommand(t CommandType, boxID int, payload any) (Command, error) {
	cmd := Command{Type: t, BoxID: boxID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Command{}, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		cmd.Payload = raw
	}
	return cmd, nil
}

// InitRoutePayload seeds a box with a route and its roster.
type InitRoutePayload struct {
	RouteIndex     int      `json:"routeIndex"`
	RoutesCount    int      `json:"routesCount"`
	Holds          []int    `json:"holds"`
	Roster         []string `json:"roster"`
	TimerPresetSec int      `json:"timerPresetSec"`
	Category       string   `json:"category,omitempty"`
}

// ProgressPayload moves the current climber's hold progress by a delta.
type ProgressPayload struct {
	Delta int `json:"delta"`
}

// RegisterTimePayload records the elapsed climbing time.
type RegisterTimePayload struct {
	ElapsedSec float64 `json:"elapsedSec"`
}

// SubmitScorePayload records a final score, optionally with a time.
type SubmitScorePayload struct {
	Competitor string   `json:"competitor"`
	Score      float64  `json:"score"`
	TimeSec    *float64 `json:"timeSec,omitempty"`
}

// ResetPayload clears box state. Full resets everything; otherwise the
// flags select timer, progress and marks independently.
type ResetPayload struct {
	Full     bool `json:"full"`
	Timer    bool `json:"timer,omitempty"`
	Progress bool `json:"progress,omitempty"`
	Marks    bool `json:"marks,omitempty"`
}

// SetTimeCriterionPayload toggles the per-box time-criterion flag.
type SetTimeCriterionPayload struct {
	Enabled bool `json:"enabled"`
}

// SetTimerPresetPayload changes the countdown preset.
type SetTimerPresetPayload struct {
	Seconds int `json:"seconds"`
}

// TieBreakDecision selects how a manual tie-break was resolved.
type TieBreakDecision string

const (
	TieBreakByTime           TieBreakDecision = "time"
	TieBreakByPreviousRounds TieBreakDecision = "previousRounds"
)

// TieBreakPayload records a judge's tie-break decision. The fingerprint
// identifies the exact tie situation so replays are idempotent.
type TieBreakPayload struct {
	Decision    TieBreakDecision `json:"decision"`
	Fingerprint string           `json:"fingerprint"`
}

// TieFingerprint derives a stable identifier for a tie between the named
// competitors at the given total. Name order and case do not affect it.
func TieFingerprint(boxID int, names []string, total float64) string {
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}
	sort.Strings(lowered)

	h := sha256.New()
	h.Write([]byte(strconv.Itoa(boxID)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(total, 'f', 3, 64)))
	for _, n := range lowered {
		h.Write([]byte{0})
		h.Write([]byte(n))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
