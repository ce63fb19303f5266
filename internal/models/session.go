package models

import "time"

// IntakeState is the fill state of an intake slot set.
type IntakeState string

const (
	IntakeStateEmpty   IntakeState = "empty"
	IntakeStatePartial IntakeState = "partial"
	IntakeStateFull    IntakeState = "full"
)

// BannerError is the validation or capacity error currently shown to the user.
type BannerError struct {
	Kind      string    `json:"kind" msgpack:"kind"`
	Message   string    `json:"message" msgpack:"message"`
	RaisedAt  time.Time `json:"raisedAt" msgpack:"raisedAt"`
	ExpiresAt time.Time `json:"expiresAt" msgpack:"expiresAt"`
}

// IntakeSnapshot is a point-in-time view of an intake session.
type IntakeSnapshot struct {
	ID         string         `json:"id,omitempty" msgpack:"id,omitempty"`
	State      IntakeState    `json:"state" msgpack:"state"`
	Capacity   int            `json:"capacity" msgpack:"capacity"`
	Files      []AdmittedFile `json:"files" msgpack:"files"`
	DragActive bool           `json:"dragActive" msgpack:"dragActive"`
	Error      *BannerError   `json:"error,omitempty" msgpack:"error,omitempty"`
	Closed     bool           `json:"closed,omitempty" msgpack:"closed,omitempty"`
}

// IntakeEventKind classifies journaled intake events.
type IntakeEventKind string

const (
	EventAdmitted        IntakeEventKind = "admitted"
	EventRejected        IntakeEventKind = "rejected"
	EventCapacity        IntakeEventKind = "capacity_exceeded"
	EventUnauthenticated IntakeEventKind = "unauthenticated"
	EventRemoved         IntakeEventKind = "removed"
	EventReset           IntakeEventKind = "reset"
	EventTeardown        IntakeEventKind = "teardown"
)

// IntakeEvent records one observable step of an intake session.
type IntakeEvent struct {
	SessionID string          `json:"sessionId"`
	Kind      IntakeEventKind `json:"kind"`
	Source    string          `json:"source,omitempty"`
	FileName  string          `json:"fileName,omitempty"`
	Slot      int             `json:"slot"`
	Detail    string          `json:"detail,omitempty"`
	At        time.Time       `json:"at"`
}
