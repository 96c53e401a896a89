package boxstate

import (
	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

// Box is the local record of one independently scored competition unit.
// Version and SessionToken are owned by the authority; local optimistic
// writes never touch them.
type Box struct {
	ID             int
	Category       string
	Initiated      bool
	RouteIndex     int
	RoutesCount    int
	Holds          []int
	Climber        string
	Preparing      string
	TimerState     protocol.TimerState
	RemainingSec   int
	TimerPresetSec int
	TimeCriterion  bool
	Version        int64
	SessionToken   string
	Competitors    []Competitor
}

// Competitor mirrors one roster entry. Scores and Times are per-route;
// nil marks a route not yet attempted. Times are informational only.
type Competitor struct {
	Name   string
	Scores []*float64
	Times  []*float64
	Marked bool
}

// RouteSpan is the effective number of routes a box scores across. The
// declared count, the current route index and the hold list can disagree
// while a competition is being set up; the widest wins.
func (b *Box) RouteSpan() int {
	n := b.RoutesCount
	if b.RouteIndex > n {
		n = b.RouteIndex
	}
	if len(b.Holds) > n {
		n = len(b.Holds)
	}
	return n
}

func boxFromSnapshot(snap *protocol.BoxSnapshot) *Box {
	b := &Box{
		ID:             snap.BoxID,
		Category:       snap.Category,
		Initiated:      snap.Initiated,
		RouteIndex:     snap.RouteIndex,
		RoutesCount:    snap.RoutesCount,
		Holds:          append([]int(nil), snap.Holds...),
		Climber:        snap.Climber,
		Preparing:      snap.Preparing,
		TimerState:     snap.TimerState,
		RemainingSec:   snap.RemainingSec,
		TimerPresetSec: snap.TimerPresetSec,
		TimeCriterion:  snap.TimeCriterion,
		Version:        snap.Version,
		SessionToken:   snap.SessionToken,
	}
	if b.TimerState == "" {
		b.TimerState = protocol.TimerIdle
	}
	for _, c := range snap.Competitors {
		b.Competitors = append(b.Competitors, Competitor{
			Name:   c.Name,
			Scores: cloneSeries(c.Scores),
			Times:  cloneSeries(c.Times),
			Marked: c.Marked,
		})
	}
	return b
}

func cloneBox(b *Box) Box {
	out := *b
	out.Holds = append([]int(nil), b.Holds...)
	out.Competitors = nil
	for _, c := range b.Competitors {
		out.Competitors = append(out.Competitors, Competitor{
			Name:   c.Name,
			Scores: cloneSeries(c.Scores),
			Times:  cloneSeries(c.Times),
			Marked: c.Marked,
		})
	}
	return out
}

func cloneSeries(in []*float64) []*float64 {
	if in == nil {
		return nil
	}
	out := make([]*float64, len(in))
	for i, v := range in {
		if v != nil {
			f := *v
			out[i] = &f
		}
	}
	return out
}
