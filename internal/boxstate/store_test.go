package boxstate

import (
	"testing"

	"github.com/uivlisievoicroc/escalada-scoreboard/internal/protocol"
)

func snap(boxID int, version int64) *protocol.BoxSnapshot {
	score := 10.0
	return &protocol.BoxSnapshot{
		Type:         protocol.TypeBoxUpdate,
		BoxID:        boxID,
		Initiated:    true,
		RouteIndex:   1,
		RoutesCount:  3,
		Holds:        []int{12, 10, 14},
		TimerState:   protocol.TimerIdle,
		Version:      version,
		SessionToken: "tok-1",
		Competitors: []protocol.CompetitorState{
			{Name: "Alice", Scores: []*float64{&score}},
		},
	}
}

func TestApplySnapshot_ReplacesRecord(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot(snap(1, 5))

	box, ok := s.Get(1)
	if !ok {
		t.Fatalf("box 1 missing")
	}
	if box.Version != 5 || box.SessionToken != "tok-1" {
		t.Fatalf("unexpected tokens: %+v", box)
	}
	if len(box.Competitors) != 1 || box.Competitors[0].Name != "Alice" {
		t.Fatalf("unexpected roster: %+v", box.Competitors)
	}
}

func TestSnapshotOverwritesOptimisticState(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot(snap(1, 5))

	// Optimistic local write issued before the authority confirmed anything.
	ok := s.ApplyLocal(1, func(b *Box) {
		b.TimerState = protocol.TimerRunning
		b.RemainingSec = 240
		b.Version = 999 // must not stick
	})
	if !ok {
		t.Fatalf("ApplyLocal on known box returned false")
	}

	box, _ := s.Get(1)
	if box.TimerState != protocol.TimerRunning {
		t.Fatalf("optimistic write not visible")
	}
	if box.Version != 5 {
		t.Fatalf("optimistic write must not change the version, got %d", box.Version)
	}

	// Next authoritative snapshot supersedes the optimistic state outright.
	s.ApplySnapshot(snap(1, 6))
	box, _ = s.Get(1)
	if box.TimerState != protocol.TimerIdle || box.RemainingSec != 0 {
		t.Fatalf("snapshot did not overwrite optimistic state: %+v", box)
	}
	if box.Version != 6 {
		t.Fatalf("version = %d, want 6", box.Version)
	}
}

func TestApplyLocal_UnknownBox(t *testing.T) {
	s := NewStore()
	if s.ApplyLocal(42, func(b *Box) {}) {
		t.Fatalf("ApplyLocal on unknown box should return false")
	}
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot(snap(1, 1))

	box, _ := s.Get(1)
	*box.Competitors[0].Scores[0] = 99
	box.Holds[0] = 0

	again, _ := s.Get(1)
	if *again.Competitors[0].Scores[0] != 10 {
		t.Fatalf("score aliased through Get copy")
	}
	if again.Holds[0] != 12 {
		t.Fatalf("holds aliased through Get copy")
	}
}

func TestCredentials(t *testing.T) {
	s := NewStore()
	if _, _, ok := s.Credentials(1); ok {
		t.Fatalf("credentials for unknown box")
	}
	s.ApplySnapshot(snap(1, 7))
	v, tok, ok := s.Credentials(1)
	if !ok || v != 7 || tok != "tok-1" {
		t.Fatalf("credentials = (%d, %q, %v)", v, tok, ok)
	}
}

func TestSubscribe_ReceivesUpdates(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe(4)
	defer s.Unsubscribe(ch)

	s.ApplySnapshot(snap(2, 1))

	select {
	case u := <-ch:
		if u.BoxID != 2 || u.Box.Version != 1 {
			t.Fatalf("unexpected update: %+v", u)
		}
	default:
		t.Fatalf("no update delivered")
	}
}

func TestRouteSpan(t *testing.T) {
	cases := []struct {
		name string
		box  Box
		want int
	}{
		{"declared widest", Box{RoutesCount: 4, RouteIndex: 2, Holds: []int{10}}, 4},
		{"index widest", Box{RoutesCount: 1, RouteIndex: 3}, 3},
		{"holds widest", Box{RoutesCount: 2, RouteIndex: 1, Holds: []int{10, 10, 10, 10, 10}}, 5},
		{"empty", Box{}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.box.RouteSpan(); got != tc.want {
				t.Fatalf("RouteSpan() = %d, want %d", got, tc.want)
			}
		})
	}
}
