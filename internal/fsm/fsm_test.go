package fsm

import "testing"

const (
	stateA State = iota
	stateB
	stateC
)

func TestDispatchTransitionsOnHookResult(t *testing.T) {
	var arrivals []State
	table := Table[*int]{
		stateA: {
			OnArrival:   func(ctx *int, s State) { arrivals = append(arrivals, s) },
			OnReadReady: func(ctx *int) State { return stateB },
		},
		stateB: {
			OnArrival: func(ctx *int, s State) { arrivals = append(arrivals, s) },
		},
	}

	ctx := new(int)
	m := New(table, stateA, ctx)
	m.Dispatch(EventReadReady)

	if m.Current() != stateB {
		t.Fatalf("Current = %v, want stateB", m.Current())
	}
	if len(arrivals) != 2 || arrivals[0] != stateA || arrivals[1] != stateB {
		t.Fatalf("arrivals = %v", arrivals)
	}
}

func TestDispatchSameStateSkipsDepartureArrival(t *testing.T) {
	arrivals := 0
	table := Table[*int]{
		stateA: {
			OnArrival:   func(ctx *int, s State) { arrivals++ },
			OnReadReady: func(ctx *int) State { return stateA },
		},
	}
	m := New(table, stateA, new(int))
	m.Dispatch(EventReadReady)

	if arrivals != 1 {
		t.Fatalf("arrivals = %d, want 1 (only the initial New() arrival)", arrivals)
	}
}

func TestGotoForcesTransition(t *testing.T) {
	table := Table[*int]{
		stateA: {},
		stateC: {},
	}
	m := New(table, stateA, new(int))
	m.Goto(stateC)
	if m.Current() != stateC {
		t.Fatalf("Current = %v, want stateC", m.Current())
	}
}

func TestNestedGotoFromWithinHookIsIdempotentOnReturn(t *testing.T) {
	// Mirrors the session package's finalizeReply pattern: a hook
	// triggers a synchronous Goto to another state mid-dispatch, and the
	// dispatching hook's own return value matches that new state so the
	// outer transition is a no-op rather than bouncing back.
	var m *Machine[*int]
	table := Table[*int]{
		stateA: {
			OnReadReady: func(ctx *int) State {
				m.Goto(stateC)
				return stateC
			},
		},
		stateC: {},
	}
	m = New(table, stateA, new(int))
	m.Dispatch(EventReadReady)

	if m.Current() != stateC {
		t.Fatalf("Current = %v, want stateC", m.Current())
	}
}

func TestDispatchOnUnknownStateIsNoop(t *testing.T) {
	table := Table[*int]{}
	m := New(table, stateA, new(int))
	m.Dispatch(EventReadReady)
	if m.Current() != stateA {
		t.Fatalf("Current changed on a table with no entries")
	}
}

func TestDepartureFiresBeforeArrival(t *testing.T) {
	var order []string
	table := Table[*int]{
		stateA: {
			OnDeparture: func(ctx *int, s State) { order = append(order, "departA") },
			OnReadReady: func(ctx *int) State { return stateB },
		},
		stateB: {
			OnArrival: func(ctx *int, s State) { order = append(order, "arriveB") },
		},
	}
	m := New(table, stateA, new(int))
	m.Dispatch(EventReadReady)

	if len(order) != 2 || order[0] != "departA" || order[1] != "arriveB" {
		t.Fatalf("order = %v", order)
	}
}
