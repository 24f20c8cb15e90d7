package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/repository"
)

// DuplicatePolicy decides what a repeated callback for an already notified
// grievance does. Workers deliver at least once, so repeats are normal.
type DuplicatePolicy string

const (
	// DuplicateSuppress notifies the citizen once per grievance. Later
	// deliveries still record the latest summary but report notified=false.
	DuplicateSuppress DuplicatePolicy = "suppress"
	// DuplicateRenotify notifies on every delivery.
	DuplicateRenotify DuplicatePolicy = "renotify"
)

// ParseDuplicatePolicy maps a config value to a policy; empty means suppress.
func ParseDuplicatePolicy(v string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", DuplicateSuppress:
		return DuplicateSuppress, nil
	case DuplicateRenotify:
		return DuplicateRenotify, nil
	default:
		return "", fmt.Errorf("usecase: unknown duplicate policy %q", v)
	}
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, id, summary string, at time.Time) (domain.Grievance, error)
	ClaimNotification(ctx context.Context, id string, at time.Time) error
	ReleaseNotification(ctx context.Context, id string) error
}

// Notification is what a channel adapter tells the citizen once analysis is done.
type Notification struct {
	GrievanceID    string
	TrackingID     string
	OutcomeSummary string
}

// Notifier delivers a notification on one channel. notified is false when the
// channel has no way to reach the citizen.
type Notifier interface {
	Notify(ctx context.Context, corr domain.Correlation, n Notification) (notified bool, err error)
}

type CallbackOutput struct {
	Notified bool
	// Duplicate is set when an earlier delivery already reached the citizen.
	// Under DuplicateRenotify every repeat delivery counts.
	Duplicate bool
	Channel   domain.Channel
}

// CallbackService ingests worker results and routes the notification to the
// channel named in the callback's own correlation, never one looked up again.
type CallbackService struct {
	recorder  OutcomeRecorder
	notifiers map[domain.Channel]Notifier
	policy    DuplicatePolicy
	now       func() time.Time
}

func NewCallbackService(recorder OutcomeRecorder, notifiers map[domain.Channel]Notifier, policy DuplicatePolicy) (*CallbackService, error) {
	if recorder == nil {
		return nil, errors.New("usecase: outcome recorder must not be nil")
	}
	if len(notifiers) == 0 {
		return nil, errors.New("usecase: at least one notifier is required")
	}
	for ch, n := range notifiers {
		if n == nil {
			return nil, fmt.Errorf("usecase: notifier for %q must not be nil", ch)
		}
	}
	if policy != DuplicateSuppress && policy != DuplicateRenotify {
		return nil, fmt.Errorf("usecase: unknown duplicate policy %q", policy)
	}
	return &CallbackService{recorder: recorder, notifiers: notifiers, policy: policy, now: time.Now}, nil
}

func (s *CallbackService) Policy() DuplicatePolicy {
	return s.policy
}

func (s *CallbackService) Ingest(ctx context.Context, res domain.CallbackResult) (CallbackOutput, error) {
	id := strings.TrimSpace(res.GrievanceID)
	if id == "" {
		return CallbackOutput{}, newError(ErrorValidation, "missing_grievance_id", nil)
	}
	if res.Correlation == nil || res.Correlation.Channel == "" || strings.TrimSpace(res.Correlation.ChannelUserID) == "" {
		return CallbackOutput{}, newError(ErrorValidation, "missing_correlation", nil)
	}
	corr := *res.Correlation
	notifier, ok := s.notifiers[corr.Channel]
	if !ok {
		return CallbackOutput{}, newError(ErrorValidation, "unknown_channel", nil)
	}

	now := s.now()
	g, err := s.recorder.RecordOutcome(ctx, id, res.OutcomeSummary, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return CallbackOutput{}, newError(ErrorNotFound, "unknown_grievance", err)
		}
		return CallbackOutput{}, newError(ErrorUpstream, "record_outcome_error", err)
	}

	out := CallbackOutput{Channel: corr.Channel}
	if s.policy == DuplicateRenotify {
		out.Duplicate = g.CallbackCount > 1
	}

	if s.policy == DuplicateSuppress {
		err := s.recorder.ClaimNotification(ctx, id, now)
		if errors.Is(err, repository.ErrConflict) {
			slog.InfoContext(ctx, "duplicate callback suppressed", "grievance_id", id, "deliveries", g.CallbackCount)
			out.Duplicate = true
			return out, nil
		}
		if err != nil {
			return CallbackOutput{}, newError(ErrorUpstream, "claim_notification_error", err)
		}
	}

	notified, err := notifier.Notify(ctx, corr, Notification{
		GrievanceID:    g.ID,
		TrackingID:     g.TrackingID,
		OutcomeSummary: res.OutcomeSummary,
	})
	if err != nil {
		if s.policy == DuplicateSuppress {
			if relErr := s.recorder.ReleaseNotification(ctx, id); relErr != nil {
				slog.WarnContext(ctx, "failed to release notification claim", "grievance_id", id, "err", relErr)
			}
		}
		return CallbackOutput{}, newError(ErrorUpstream, "notify_error", err)
	}
	out.Notified = notified
	return out, nil
}
