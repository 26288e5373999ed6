package scheduling

import "fmt"

// TransitionPolicy decides whether an appointment may move between two
// catalog statuses. The catalog itself is data; the rules are pluggable.
type TransitionPolicy interface {
	Allow(from, to *AppointmentStatus) error
}

// AnyTransition permits every move. This is the default.
type AnyTransition struct{}

func (AnyTransition) Allow(_, _ *AppointmentStatus) error { return nil }

// TransitionTable maps a status code to the codes reachable from it. Staying
// on the same status is always allowed; a code with no entry is terminal.
type TransitionTable map[string][]string

func (t TransitionTable) Allow(from, to *AppointmentStatus) error {
	if from.Code == to.Code {
		return nil
	}
	for _, next := range t[from.Code] {
		if next == to.Code {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from.Code, to.Code)
}
