package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/evidence"
	"grievance-intake/internal/repository"
)

const (
	maxGrievanceText    = 4000
	maxTrackingAttempts = 8

	reasonPersist = "persist_error"
)

type GrievanceWriter interface {
	CreateGrievance(ctx context.Context, g domain.Grievance) error
	NextTrackingSequence(ctx context.Context, day string) (int64, error)
	MarkDispatched(ctx context.Context, id, receipt string, at time.Time) error
}

type BlobStore interface {
	Upload(ctx context.Context, data []byte, name, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

type Queue interface {
	Enqueue(ctx context.Context, msg domain.DispatchMessage) (string, error)
}

// Outcome distinguishes a fully dispatched submission from one that is
// durable but not yet handed to the analysis queue.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	OutcomeDegraded   Outcome = "degraded"
)

type SubmitOutput struct {
	GrievanceID string
	TrackingID  string
	EvidenceURL string
	Status      domain.GrievanceStatus
	Outcome     Outcome
}

// Degraded reports a persisted grievance whose dispatch failed.
func (o SubmitOutput) Degraded() bool {
	return o.Outcome == OutcomeDegraded
}

// SubmitService turns a SubmissionRequest into a grievance. Side effects run
// in a fixed order: evidence upload, then the grievance transaction, then the
// queue. A queue message therefore never references a grievance that does not
// exist, and an evidence-bearing submission is never stored without its file.
type SubmitService struct {
	repo  GrievanceWriter
	blobs BlobStore
	queue Queue
	now   func() time.Time
}

func NewSubmitService(repo GrievanceWriter, blobs BlobStore, queue Queue) (*SubmitService, error) {
	if repo == nil {
		return nil, errors.New("usecase: grievance writer must not be nil")
	}
	if blobs == nil {
		return nil, errors.New("usecase: blob store must not be nil")
	}
	if queue == nil {
		return nil, errors.New("usecase: queue must not be nil")
	}
	return &SubmitService{repo: repo, blobs: blobs, queue: queue, now: time.Now}, nil
}

// Submit validates, persists and dispatches req. On success the output is
// either OutcomeDispatched or OutcomeDegraded. An error means the grievance
// was not confirmed; only a persist_error leaves it possibly written.
func (s *SubmitService) Submit(ctx context.Context, req domain.SubmissionRequest) (SubmitOutput, error) {
	text := strings.TrimSpace(req.Text)
	if err := validateSubmission(req, text); err != nil {
		return SubmitOutput{}, err
	}

	var evidenceURL string
	if req.Evidence != nil {
		contentType, err := evidence.Validate(req.Evidence.Data, req.Evidence.Name)
		if err != nil {
			return SubmitOutput{}, newError(ErrorValidation, "invalid_evidence", err)
		}
		evidenceURL, err = s.blobs.Upload(ctx, req.Evidence.Data, req.Evidence.Name, contentType)
		if err != nil {
			return SubmitOutput{}, newError(ErrorUpstream, "evidence_upload_error", err)
		}
	}

	g, err := s.persist(ctx, req, text, evidenceURL)
	if err != nil {
		if evidenceURL != "" {
			s.discardEvidence(ctx, evidenceURL, err)
		}
		return SubmitOutput{}, err
	}

	out := SubmitOutput{
		GrievanceID: g.ID,
		TrackingID:  g.TrackingID,
		EvidenceURL: g.EvidenceURL,
		Status:      g.Status,
		Outcome:     OutcomeDispatched,
	}

	enqueuedAt := s.now().UTC()
	receipt, err := s.queue.Enqueue(ctx, buildDispatchMessage(g, req.Correlation, enqueuedAt))
	if err != nil {
		slog.WarnContext(ctx, "grievance persisted but not dispatched",
			"grievance_id", g.ID, "tracking_id", g.TrackingID, "err", err)
		out.Outcome = OutcomeDegraded
		return out, nil
	}

	if err := s.repo.MarkDispatched(ctx, g.ID, receipt, enqueuedAt); err != nil {
		slog.WarnContext(ctx, "failed to mark grievance dispatched",
			"grievance_id", g.ID, "receipt", receipt, "err", err)
	}
	return out, nil
}

// persist writes the grievance, drawing a fresh tracking id whenever the
// previous one is already taken. After maxTrackingAttempts random draws it
// walks the day's sequence counter instead, so a collision never reaches the
// caller while free ids remain.
func (s *SubmitService) persist(ctx context.Context, req domain.SubmissionRequest, text, evidenceURL string) (domain.Grievance, error) {
	created := s.now().UTC()
	g := domain.Grievance{
		ID:          newUUID(),
		CitizenID:   req.CitizenID,
		Text:        text,
		EvidenceURL: evidenceURL,
		Location:    req.Location,
		Status:      domain.StatusPendingAnalysis,
		Channel:     req.Correlation.Channel,
		CreatedAt:   created,
	}

	for attempt := 1; attempt <= maxTrackingAttempts; attempt++ {
		tracking, err := newTrackingID(created)
		if err != nil {
			return domain.Grievance{}, newError(ErrorInternal, "tracking_id_error", err)
		}
		g.TrackingID = tracking
		ok, err := s.create(ctx, g)
		if err != nil {
			return domain.Grievance{}, err
		}
		if ok {
			return g, nil
		}
		slog.InfoContext(ctx, "tracking id collision, regenerating", "tracking_id", tracking, "attempt", attempt)
	}

	day := created.Format(trackingDayLayout)
	for {
		seq, err := s.repo.NextTrackingSequence(ctx, day)
		if err != nil {
			return domain.Grievance{}, newError(ErrorUpstream, "tracking_sequence_error", err)
		}
		tracking, err := SequentialTrackingID(created, seq)
		if err != nil {
			return domain.Grievance{}, newError(ErrorInternal, "tracking_space_exhausted", err)
		}
		g.TrackingID = tracking
		ok, err := s.create(ctx, g)
		if err != nil {
			return domain.Grievance{}, err
		}
		if ok {
			slog.InfoContext(ctx, "tracking id taken from day sequence", "tracking_id", tracking)
			return g, nil
		}
	}
}

// create reports false when g's tracking id is already reserved. Any other
// failure leaves the write's outcome unknown.
func (s *SubmitService) create(ctx context.Context, g domain.Grievance) (bool, error) {
	err := s.repo.CreateGrievance(ctx, g)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrConflict):
		return false, nil
	default:
		return false, newError(ErrorUpstream, reasonPersist, err)
	}
}

// discardEvidence removes an upload whose grievance was definitely not
// written. A failed grievance write may still have committed, so its file is
// kept and left to the bucket lifecycle rule.
func (s *SubmitService) discardEvidence(ctx context.Context, url string, cause error) {
	var ue *Error
	if errors.As(cause, &ue) && ue.Reason == reasonPersist {
		slog.WarnContext(ctx, "grievance write outcome unknown, keeping evidence", "url", url, "err", cause)
		return
	}
	if err := s.blobs.Delete(ctx, url); err != nil {
		slog.WarnContext(ctx, "failed to delete orphaned evidence", "url", url, "err", err)
	}
}

func validateSubmission(req domain.SubmissionRequest, text string) error {
	if strings.TrimSpace(req.CitizenID) == "" {
		return newError(ErrorValidation, "missing_citizen", nil)
	}
	if text == "" {
		return newError(ErrorValidation, "empty_text", nil)
	}
	if utf8.RuneCountInString(text) > maxGrievanceText {
		return newError(ErrorValidation, "text_too_long", nil)
	}
	if req.Correlation.Channel == "" || strings.TrimSpace(req.Correlation.ChannelUserID) == "" {
		return newError(ErrorValidation, "missing_correlation", nil)
	}
	if req.Location != nil && !validLocation(*req.Location) {
		return newError(ErrorValidation, "invalid_location", nil)
	}
	return nil
}

func validLocation(l domain.Location) bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

func buildDispatchMessage(g domain.Grievance, corr domain.Correlation, at time.Time) domain.DispatchMessage {
	msg := domain.DispatchMessage{
		GrievanceID: g.ID,
		CitizenID:   g.CitizenID,
		Correlation: corr,
		Text:        g.Text,
		Location:    g.Location,
		EnqueuedAt:  at,
	}
	if g.EvidenceURL != "" {
		url := g.EvidenceURL
		msg.EvidenceURL = &url
	}
	return msg
}

var newUUID = func() string {
	return uuid.NewString()
}

var newTrackingID = NewTrackingID
