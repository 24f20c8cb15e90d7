package conversation

import (
	"fmt"

	"grievance-intake/internal/evidence"
)

// Prompt hints which input control the channel should offer with a reply.
type Prompt string

const (
	PromptNone     Prompt = ""
	PromptContact  Prompt = "contact"
	PromptLocation Prompt = "location"
)

const (
	msgIdle              = "Send /start to register or /complain to report a problem."
	msgAskPhone          = "Welcome! Please share your phone number using the button below."
	msgAskLocation       = "Thanks. Now share your location to finish registration."
	msgAskGrievanceLoc   = "Please share the location of the problem."
	msgAskGrievanceText  = "Describe the problem in a single text message."
	msgRegistered        = "You are registered. Send /complain whenever you want to report a problem."
	msgAlreadyRegistered = "Welcome back, you are already registered. Send /complain to report a problem."
	msgRegisterFirst     = "You need to register first. Send /start to begin."
	msgCancelled         = "Cancelled. Send /start or /complain to begin again."
	msgNothingToCancel   = "Nothing to cancel."
	msgForeignContact    = "Please share your own contact using the button below."
	msgEmptyText         = "The description cannot be empty. Describe the problem in a text message."
	msgTextTooLong       = "That description is too long. Please keep it under 4000 characters."
	msgRetry             = "Something went wrong on our side. Your progress is saved, please try again."
	msgInProgress        = "Your earlier message is still being handled. Please wait for its reply."
	msgSubmitted         = "Your grievance has been registered. Tracking id: %s. We will message you once it has been reviewed."
	msgSubmittedDegraded = "Your grievance has been saved with tracking id %s, but it is queued for review with a delay. No need to resend it."
)

func askProof() string {
	return fmt.Sprintf("Upload a photo or document as proof (%s, up to 10 MB).", evidence.AcceptedTypes())
}

func rejectProof() string {
	return fmt.Sprintf("That file cannot be accepted. Accepted types: %s, up to 10 MB.", evidence.AcceptedTypes())
}

// prompts holds the re-prompt for each resting state.
var prompts = map[State]struct {
	text   string
	prompt Prompt
}{
	StateIdle:                      {msgIdle, PromptNone},
	StateAwaitingPhone:             {msgAskPhone, PromptContact},
	StateAwaitingLocation:          {msgAskLocation, PromptLocation},
	StateAwaitingGrievanceLocation: {msgAskGrievanceLoc, PromptLocation},
	StateAwaitingGrievanceText:     {msgAskGrievanceText, PromptNone},
}

func promptFor(s State) Reply {
	if s == StateAwaitingProof {
		return Reply{Text: askProof(), State: s}
	}
	p := prompts[s]
	return Reply{Text: p.text, Prompt: p.prompt, State: s}
}
