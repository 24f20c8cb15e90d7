// Package conversation drives a citizen through the bot dialogues:
// registration (phone, then location) and grievance submission (location,
// then text, then proof).
//
// Every step is an entry in one (State, EventKind) table. A pair missing from
// the table is a mismatch: the user is re-prompted and the session is left
// untouched.
package conversation

import "grievance-intake/internal/domain"

type State string

const (
	StateIdle                      State = "idle"
	StateAwaitingPhone             State = "awaiting_phone"
	StateAwaitingLocation          State = "awaiting_location"
	StateAwaitingGrievanceLocation State = "awaiting_grievance_location"
	StateAwaitingGrievanceText     State = "awaiting_grievance_text"
	StateAwaitingProof             State = "awaiting_proof"
	StateRegistered                State = "registered"
	StateSubmitted                 State = "submitted"
)

// Terminal reports whether reaching s commits the dialogue and ends it.
func (s State) Terminal() bool {
	return s == StateRegistered || s == StateSubmitted
}

type EventKind string

const (
	EventStart    EventKind = "start"
	EventComplain EventKind = "complain"
	EventCancel   EventKind = "cancel"
	EventContact  EventKind = "contact"
	EventLocation EventKind = "location"
	EventText     EventKind = "text"
	EventFile     EventKind = "file"
)

// Contact is a shared phone contact. UserID is the channel user the contact
// belongs to, empty when it is not a channel user.
type Contact struct {
	Phone  string
	UserID string
}

// File references an attachment still held by the channel.
type File struct {
	ID   string
	Name string
	Size int64
}

// Event is one discrete user action. Only the payload matching Kind is set.
type Event struct {
	Kind          EventKind
	ChannelUserID string
	DisplayName   string
	Text          string
	Contact       *Contact
	Location      *domain.Location
	File          *File
}

type Effect string

const (
	EffectBeginRegistration       Effect = "begin_registration"
	EffectBeginComplaint          Effect = "begin_complaint"
	EffectCancel                  Effect = "cancel"
	EffectRecordPhone             Effect = "record_phone"
	EffectRegister                Effect = "register"
	EffectRecordGrievanceLocation Effect = "record_grievance_location"
	EffectRecordText              Effect = "record_text"
	EffectSubmit                  Effect = "submit"
)

type Transition struct {
	Next   State
	Effect Effect
}

type step struct {
	state State
	event EventKind
}

var transitions = func() map[step]Transition {
	t := map[step]Transition{
		{StateIdle, EventStart}:                         {StateAwaitingPhone, EffectBeginRegistration},
		{StateIdle, EventComplain}:                      {StateAwaitingGrievanceLocation, EffectBeginComplaint},
		{StateAwaitingPhone, EventContact}:              {StateAwaitingLocation, EffectRecordPhone},
		{StateAwaitingLocation, EventLocation}:          {StateRegistered, EffectRegister},
		{StateAwaitingGrievanceLocation, EventLocation}: {StateAwaitingGrievanceText, EffectRecordGrievanceLocation},
		{StateAwaitingGrievanceText, EventText}:         {StateAwaitingProof, EffectRecordText},
		{StateAwaitingProof, EventFile}:                 {StateSubmitted, EffectSubmit},
	}
	for _, s := range NonTerminalStates() {
		t[step{s, EventCancel}] = Transition{StateIdle, EffectCancel}
	}
	return t
}()

// NonTerminalStates lists every state a session can rest in, idle included.
func NonTerminalStates() []State {
	return []State{
		StateIdle,
		StateAwaitingPhone,
		StateAwaitingLocation,
		StateAwaitingGrievanceLocation,
		StateAwaitingGrievanceText,
		StateAwaitingProof,
	}
}

// Lookup returns the transition for event kind k in state s.
func Lookup(s State, k EventKind) (Transition, bool) {
	t, ok := transitions[step{s, k}]
	return t, ok
}

// Expected returns the event kinds s accepts besides cancel.
func Expected(s State) []EventKind {
	var kinds []EventKind
	for _, k := range []EventKind{EventStart, EventComplain, EventContact, EventLocation, EventText, EventFile} {
		if _, ok := Lookup(s, k); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
