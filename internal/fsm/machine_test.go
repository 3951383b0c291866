package fsm

import (
	"testing"
)

type testState int

const (
	stateIdle testState = iota
	stateRunning
	stateDone
)

func (s testState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateRunning:
		return "Running"
	case stateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

type testKind int

const (
	kindStart testKind = iota
	kindTick
	kindStop
	kindNoise
)

type testEvent struct {
	kind  testKind
	value int
}

func (e testEvent) Kind() testKind { return e.kind }

type recordingObserver struct {
	transitions []string
	unhandled   []string
}

func (r *recordingObserver) Transition(machine, from, to string) {
	r.transitions = append(r.transitions, machine+":"+from+"->"+to)
}

func (r *recordingObserver) Unhandled(machine, state, event string) {
	r.unhandled = append(r.unhandled, machine+":"+state)
}

func newTestMachine(obs Observer) (*Machine[testState, testKind, testEvent], *[]string) {
	var calls []string
	m := New[testState, testKind, testEvent]("test", stateIdle, WithObserver(obs))

	m.On(stateIdle, kindStart, func(testEvent) (testState, bool) {
		calls = append(calls, "start")
		return stateRunning, true
	})
	m.On(stateRunning, kindTick, func(ev testEvent) (testState, bool) {
		calls = append(calls, "tick")
		if ev.value > 10 {
			return stateDone, true
		}
		return stateIdle, false
	})
	m.On(stateRunning, kindStart, func(testEvent) (testState, bool) {
		return stateRunning, true
	})
	m.OnEntry(stateRunning, func() {
		calls = append(calls, "enter-running")
	})
	m.OnEntry(stateDone, func() {
		calls = append(calls, "enter-done")
	})

	return m, &calls
}

func TestDispatch_Transition(t *testing.T) {
	obs := &recordingObserver{}
	m, calls := newTestMachine(obs)

	if !m.Dispatch(testEvent{kind: kindStart}) {
		t.Fatal("Dispatch() = false, want true for handled pair")
	}
	if m.Current() != stateRunning {
		t.Errorf("Current() = %v, want %v", m.Current(), stateRunning)
	}

	want := []string{"start", "enter-running"}
	if len(*calls) != len(want) {
		t.Fatalf("calls = %v, want %v", *calls, want)
	}
	for i := range want {
		if (*calls)[i] != want[i] {
			t.Errorf("calls[%d] = %q, want %q", i, (*calls)[i], want[i])
		}
	}

	if len(obs.transitions) != 1 || obs.transitions[0] != "test:Idle->Running" {
		t.Errorf("transitions = %v, want [test:Idle->Running]", obs.transitions)
	}
}

func TestDispatch_NoTransitionRunsSideEffect(t *testing.T) {
	m, calls := newTestMachine(nil)
	m.Dispatch(testEvent{kind: kindStart})
	*calls = nil

	if !m.Dispatch(testEvent{kind: kindTick, value: 1}) {
		t.Fatal("Dispatch() = false, want true")
	}
	if m.Current() != stateRunning {
		t.Errorf("Current() = %v, want %v", m.Current(), stateRunning)
	}
	if len(*calls) != 1 || (*calls)[0] != "tick" {
		t.Errorf("calls = %v, want [tick]", *calls)
	}
}

func TestDispatch_EntryRunsBeforeAdoption(t *testing.T) {
	m := New[testState, testKind, testEvent]("test", stateIdle)

	var seen testState = -1
	m.On(stateIdle, kindStart, func(testEvent) (testState, bool) { return stateRunning, true })
	m.OnEntry(stateRunning, func() { seen = m.Current() })

	m.Dispatch(testEvent{kind: kindStart})

	if seen != stateIdle {
		t.Errorf("state during entry action = %v, want %v", seen, stateIdle)
	}
	if m.Current() != stateRunning {
		t.Errorf("Current() = %v, want %v", m.Current(), stateRunning)
	}
}

func TestDispatch_SelfTransitionRunsEntry(t *testing.T) {
	m, calls := newTestMachine(nil)
	m.Dispatch(testEvent{kind: kindStart})
	*calls = nil

	m.Dispatch(testEvent{kind: kindStart})

	if len(*calls) != 1 || (*calls)[0] != "enter-running" {
		t.Errorf("calls = %v, want [enter-running]", *calls)
	}
}

func TestDispatch_UnhandledPairsLeaveStateUnchanged(t *testing.T) {
	states := []testState{stateIdle, stateRunning, stateDone}
	kinds := []testKind{kindStart, kindTick, kindStop, kindNoise}

	for _, s := range states {
		for _, k := range kinds {
			obs := &recordingObserver{}
			m, _ := newTestMachine(obs)
			m.current = s

			if m.Handles(s, k) {
				continue
			}

			if m.Dispatch(testEvent{kind: k}) {
				t.Errorf("Dispatch(%v, %v) = true, want false", s, k)
			}
			if m.Current() != s {
				t.Errorf("Dispatch(%v, %v) moved to %v", s, k, m.Current())
			}
			if len(obs.unhandled) != 1 {
				t.Errorf("Dispatch(%v, %v) unhandled notifications = %d, want 1", s, k, len(obs.unhandled))
			}
		}
	}
}

func TestObservers_SkipsNil(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}
	obs := Observers(a, nil, b)

	obs.Transition("m", "x", "y")
	obs.Unhandled("m", "x", "e")

	if len(a.transitions) != 1 || len(b.transitions) != 1 {
		t.Errorf("transitions a=%d b=%d, want 1 each", len(a.transitions), len(b.transitions))
	}
	if len(a.unhandled) != 1 || len(b.unhandled) != 1 {
		t.Errorf("unhandled a=%d b=%d, want 1 each", len(a.unhandled), len(b.unhandled))
	}
}

func TestIs(t *testing.T) {
	m, _ := newTestMachine(nil)
	if !m.Is(stateIdle) {
		t.Error("Is(Idle) = false, want true")
	}
	if m.Is(stateDone) {
		t.Error("Is(Done) = true, want false")
	}
	if m.Name() != "test" {
		t.Errorf("Name() = %q, want %q", m.Name(), "test")
	}
}
