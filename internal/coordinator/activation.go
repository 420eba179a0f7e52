package coordinator

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the type of a timed activation.
type Kind string

const (
	KindDebounceCheck Kind = "debounce_check"
	KindSendPart      Kind = "send_part"
)

// ErrInvalidActivation is returned when an activation lacks a required field.
var ErrInvalidActivation = errors.New("invalid activation")

// DebounceCheck asks whether a user's burst of messages has settled.
// After is the receive time of the newest message when the check was armed.
type DebounceCheck struct {
	After time.Time
}

// SendPart asks for one queued reply part to be delivered.
type SendPart struct {
	PartID string
	Index  int
}

type payload interface{ kind() Kind }

func (DebounceCheck) kind() Kind { return KindDebounceCheck }
func (SendPart) kind() Kind      { return KindSendPart }

// Activation is a scheduled wake-up for one user. The payload is either a
// DebounceCheck or a SendPart.
type Activation struct {
	ScheduledAt time.Time
	UserID      string
	payload     payload
}

// NewDebounceCheck builds a debounce activation firing at at.
func NewDebounceCheck(userID string, at, after time.Time) (Activation, error) {
	if userID == "" {
		return Activation{}, fmt.Errorf("%w: empty user id", ErrInvalidActivation)
	}
	if after.IsZero() {
		return Activation{}, fmt.Errorf("%w: debounce check needs a reference time", ErrInvalidActivation)
	}
	return Activation{ScheduledAt: at, UserID: userID, payload: DebounceCheck{After: after}}, nil
}

// NewSendPart builds a send activation for the queued part partID.
func NewSendPart(userID string, at time.Time, partID string, index int) (Activation, error) {
	if userID == "" {
		return Activation{}, fmt.Errorf("%w: empty user id", ErrInvalidActivation)
	}
	if partID == "" {
		return Activation{}, fmt.Errorf("%w: send part needs a part id", ErrInvalidActivation)
	}
	if index < 0 {
		return Activation{}, fmt.Errorf("%w: negative part index %d", ErrInvalidActivation, index)
	}
	return Activation{ScheduledAt: at, UserID: userID, payload: SendPart{PartID: partID, Index: index}}, nil
}

// Kind returns the activation type. The zero Activation has no kind.
func (a Activation) Kind() Kind {
	if a.payload == nil {
		return ""
	}
	return a.payload.kind()
}

// DebounceCheck returns the debounce payload, if that is what a carries.
func (a Activation) DebounceCheck() (DebounceCheck, bool) {
	p, ok := a.payload.(DebounceCheck)
	return p, ok
}

// SendPart returns the send payload, if that is what a carries.
func (a Activation) SendPart() (SendPart, bool) {
	p, ok := a.payload.(SendPart)
	return p, ok
}

// JobKey is the scheduler key: one debounce job per user, one send job per part.
func (a Activation) JobKey() string {
	switch p := a.payload.(type) {
	case DebounceCheck:
		return DebounceKey(a.UserID)
	case SendPart:
		return SendPartKey(a.UserID, p.PartID)
	}
	return ""
}

func DebounceKey(userID string) string { return string(KindDebounceCheck) + ":" + userID }

func SendPartKey(userID, partID string) string {
	return sendPartPrefix(userID) + partID
}

func sendPartPrefix(userID string) string { return string(KindSendPart) + ":" + userID + ":" }
