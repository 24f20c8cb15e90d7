package domain

import "time"

// Channel tags a medium of citizen interaction.
type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelTelegram Channel = "telegram"
)

// Correlation is everything needed to route a reply back to the citizen. It
// travels end-to-end inside the dispatch message and the worker callback.
type Correlation struct {
	Channel       Channel `json:"channel"`
	ChannelUserID string  `json:"channel_user_id"`
}

// Evidence is an optional proof file attached to a submission.
type Evidence struct {
	Name        string
	ContentType string
	Data        []byte
}

// SubmissionRequest is the channel-agnostic complaint both adapters produce.
// It is never persisted.
type SubmissionRequest struct {
	CitizenID   string
	Text        string
	Location    *Location
	Evidence    *Evidence
	Correlation Correlation
}

// GrievanceStatus is the analysis status of a grievance.
type GrievanceStatus string

const (
	StatusPendingAnalysis GrievanceStatus = "pending_analysis"
	StatusAnalyzed        GrievanceStatus = "analyzed"
)

// Grievance is the durable record of one successful submission.
type Grievance struct {
	ID             string
	TrackingID     string
	CitizenID      string
	Text           string
	EvidenceURL    string
	Location       *Location
	Status         GrievanceStatus
	Channel        Channel
	CreatedAt      time.Time
	DispatchedAt   string
	OutcomeSummary string
	CallbackCount  int
}

// DispatchMessage is the queue payload consumed by the analysis worker.
type DispatchMessage struct {
	GrievanceID string      `json:"grievance_id"`
	CitizenID   string      `json:"citizen_id"`
	Correlation Correlation `json:"channel_correlation"`
	Text        string      `json:"text"`
	EvidenceURL *string     `json:"evidence_url"`
	Location    *Location   `json:"location"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
}

// CallbackResult is the asynchronous result posted back by the worker. It may
// arrive out of order and more than once.
type CallbackResult struct {
	GrievanceID    string       `json:"grievance_id"`
	Correlation    *Correlation `json:"channel_correlation"`
	OutcomeSummary string       `json:"outcome_summary"`
}
