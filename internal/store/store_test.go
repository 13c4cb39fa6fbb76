package store

import (
	"testing"

	"github.com/famkit/famsync"
	"github.com/famkit/famsync/internal/domain"
)

type phaseRecorder struct {
	store *Store
	trace []string
}

func (r *phaseRecorder) BeforeReduce(action famsync.Action) {
	r.trace = append(r.trace, "before:"+keyOf(r.store.State()))
}

func (r *phaseRecorder) AfterReduce(action famsync.Action) {
	r.trace = append(r.trace, "after:"+keyOf(r.store.State()))
}

func keyOf(st *famsync.FamilyState) string {
	if st == nil {
		return "<none>"
	}
	return st.Key
}

func TestDispatchPhaseOrdering(t *testing.T) {
	s := New(domain.ReduceFamily)
	rec := &phaseRecorder{store: s}
	s.Use(rec)

	s.Dispatch(famsync.Register{Key: "fam-1"})

	// BeforeReduce sees pre-reduction state, AfterReduce the freshly bound key.
	want := []string{"before:<none>", "after:fam-1"}
	if len(rec.trace) != len(want) {
		t.Fatalf("expected trace %v, got %v", want, rec.trace)
	}
	for i := range want {
		if rec.trace[i] != want[i] {
			t.Fatalf("expected trace %v, got %v", want, rec.trace)
		}
	}
}

func TestStateChangedReplacesState(t *testing.T) {
	s := New(domain.ReduceFamily)

	st := &famsync.FamilyState{Key: "fam-1", Value: famsync.FamilyInfo{DisplayName: "Smiths"}}
	s.Dispatch(famsync.StateChanged{State: st})

	got := s.State()
	if got == nil || got.Key != "fam-1" || got.Value.DisplayName != "Smiths" {
		t.Fatalf("expected state to be replaced, got %#v", got)
	}

	s.Dispatch(famsync.StateChanged{State: nil})
	if s.State() != nil {
		t.Fatalf("expected nil StateChanged to clear state")
	}
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	s := New(domain.ReduceFamily)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.Dispatch(famsync.Register{Key: "fam-1"})

	select {
	case st := <-ch:
		if st == nil || st.Key != "fam-1" {
			t.Fatalf("expected snapshot with fam-1, got %#v", st)
		}
	default:
		t.Fatalf("expected a snapshot on the subscription channel")
	}
}
