package scheduling

import "testing"

func TestStatusTransitions_LegalEdges(t *testing.T) {
	legal := []struct {
		from, to Status
	}{
		{StatusConfirmed, StatusInProgress},
		{StatusConfirmed, StatusCancelled},
		{StatusConfirmed, StatusRescheduled},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCancelled},
		{StatusRescheduled, StatusInProgress},
		{StatusRescheduled, StatusCancelled},
		{StatusRescheduled, StatusRescheduled},
	}
	for _, tc := range legal {
		if !tc.from.CanTransitionTo(tc.to) {
			t.Errorf("expected %s -> %s to be legal", tc.from, tc.to)
		}
	}
}

func TestStatusTransitions_IllegalEdges(t *testing.T) {
	all := []Status{StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled}

	legal := map[Status]map[Status]bool{
		StatusConfirmed:   {StatusInProgress: true, StatusCancelled: true, StatusRescheduled: true},
		StatusInProgress:  {StatusCompleted: true, StatusCancelled: true},
		StatusRescheduled: {StatusInProgress: true, StatusCancelled: true, StatusRescheduled: true},
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[from][to]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatusTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.IsFinal() {
			t.Errorf("expected %s to be final", s)
		}
	}
	for _, s := range []Status{StatusConfirmed, StatusInProgress, StatusRescheduled} {
		if s.IsFinal() {
			t.Errorf("expected %s not to be final", s)
		}
	}
	if Status("NONSENSE").IsFinal() {
		t.Error("unknown status must not report final")
	}
}

func TestStatusDerivedPredicates(t *testing.T) {
	modifiable := map[Status]bool{StatusConfirmed: true, StatusRescheduled: true}
	cancellable := map[Status]bool{StatusConfirmed: true, StatusInProgress: true, StatusRescheduled: true}

	for _, s := range []Status{StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled} {
		if got := s.IsModifiable(); got != modifiable[s] {
			t.Errorf("IsModifiable(%s): got %v, want %v", s, got, modifiable[s])
		}
		if got := s.IsCancellable(); got != cancellable[s] {
			t.Errorf("IsCancellable(%s): got %v, want %v", s, got, cancellable[s])
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("confirmed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", s)
	}

	if _, err := ParseStatus("PENDING"); err == nil {
		t.Error("expected error for unknown status")
	}
}
