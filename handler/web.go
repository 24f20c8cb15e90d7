package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/evidence"
	"grievance-intake/internal/repository"
	"grievance-intake/internal/usecase"
)

type Submitter interface {
	Submit(ctx context.Context, req domain.SubmissionRequest) (usecase.SubmitOutput, error)
}

type GrievanceLookup interface {
	Get(ctx context.Context, ref string) (usecase.LookupOutput, error)
}

type CitizenResolver interface {
	ResolveOrRegister(ctx context.Context, handle string, profile domain.Profile, loc *domain.Location) (domain.Citizen, error)
	GetByHandle(ctx context.Context, handle string) (domain.Citizen, error)
}

type submitRequest struct {
	Text        string           `json:"text" validate:"required,max=4000"`
	DisplayName string           `json:"displayName" validate:"omitempty,max=200"`
	Phone       string           `json:"phone" validate:"omitempty,e164"`
	Location    *locationRequest `json:"location"`
	Evidence    *evidenceRequest `json:"evidence"`
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type evidenceRequest struct {
	Name string `json:"name" validate:"required,max=255"`
	// Data is the file content, standard base64.
	Data string `json:"data" validate:"required,base64"`
}

type submitResponse struct {
	GrievanceID string `json:"grievanceId"`
	TrackingID  string `json:"trackingId"`
	Status      string `json:"status"`
	Outcome     string `json:"outcome"`
	EvidenceURL string `json:"evidenceUrl,omitempty"`
}

type grievanceResponse struct {
	GrievanceID     string           `json:"grievanceId"`
	TrackingID      string           `json:"trackingId"`
	Status          string           `json:"status"`
	Text            string           `json:"text"`
	Location        *domain.Location `json:"location,omitempty"`
	Channel         string           `json:"channel"`
	CreatedAt       time.Time        `json:"createdAt"`
	Dispatched      bool             `json:"dispatched"`
	OutcomeSummary  string           `json:"outcomeSummary,omitempty"`
	EvidenceReadURL string           `json:"evidenceReadUrl,omitempty"`
}

// WebHandler is the single-shot web channel. Identity comes from the API
// Gateway authorizer; there is no session.
type WebHandler struct {
	citizens CitizenResolver
	submit   Submitter
	lookup   GrievanceLookup
	validate *validator.Validate
}

func NewWebHandler(citizens CitizenResolver, submit Submitter, lookup GrievanceLookup) (*WebHandler, error) {
	if citizens == nil {
		return nil, errors.New("handler: citizen resolver must not be nil")
	}
	if submit == nil {
		return nil, errors.New("handler: submitter must not be nil")
	}
	if lookup == nil {
		return nil, errors.New("handler: lookup must not be nil")
	}
	return &WebHandler{citizens: citizens, submit: submit, lookup: lookup, validate: validator.New()}, nil
}

func (h *WebHandler) Submit(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	principal := principalID(req)
	if principal == "" {
		return errorJSON(http.StatusUnauthorized, codeUnauthorized, "missing_principal")
	}

	var in submitRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return errorJSON(http.StatusBadRequest, codeInvalidBody, "malformed_json")
	}
	if err := h.validate.Struct(in); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorValidation), fieldReason(err))
	}
	if strings.TrimSpace(in.Text) == "" {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorValidation), "invalid_text")
	}

	sub := domain.SubmissionRequest{
		Text:        in.Text,
		Correlation: domain.Correlation{Channel: domain.ChannelWeb, ChannelUserID: principal},
	}
	if in.Location != nil {
		sub.Location = &domain.Location{Latitude: *in.Location.Latitude, Longitude: *in.Location.Longitude}
	}
	if in.Evidence != nil {
		data, err := base64.StdEncoding.DecodeString(in.Evidence.Data)
		if err != nil {
			return errorJSON(http.StatusBadRequest, string(usecase.ErrorValidation), "invalid_evidence")
		}
		contentType, err := evidence.Validate(data, in.Evidence.Name)
		if err != nil {
			slog.InfoContext(ctx, "web evidence rejected", "principal", principal, "err", err)
			return errorJSON(http.StatusBadRequest, string(usecase.ErrorValidation), "invalid_evidence")
		}
		sub.Evidence = &domain.Evidence{Name: in.Evidence.Name, ContentType: contentType, Data: data}
	}

	// Input is fully checked above; the directory is written only from here on.
	citizen, resp, ok := h.resolveCitizen(ctx, principal, in)
	if !ok {
		return resp
	}
	sub.CitizenID = citizen.ID

	out, err := h.submit.Submit(ctx, sub)
	if err != nil {
		slog.WarnContext(ctx, "web submission failed", "citizen_id", citizen.ID, "err", err)
		return fromError(err)
	}

	status := http.StatusCreated
	if out.Degraded() {
		status = http.StatusAccepted
	}
	return jsonResponse(status, submitResponse{
		GrievanceID: out.GrievanceID,
		TrackingID:  out.TrackingID,
		Status:      string(out.Status),
		Outcome:     string(out.Outcome),
		EvidenceURL: out.EvidenceURL,
	})
}

// resolveCitizen finds or registers the caller. A deactivated citizen is
// refused rather than re-registered.
func (h *WebHandler) resolveCitizen(ctx context.Context, principal string, in submitRequest) (domain.Citizen, events.APIGatewayProxyResponse, bool) {
	handle := "web:" + principal
	c, err := h.citizens.GetByHandle(ctx, handle)
	switch {
	case err == nil && c.RegistrationState == domain.StateDeactivated:
		slog.InfoContext(ctx, "submission from deactivated citizen refused", "citizen_id", c.ID)
		return domain.Citizen{}, errorJSON(http.StatusForbidden, codeForbidden, "citizen_deactivated"), false
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		slog.ErrorContext(ctx, "failed to look up web citizen", "principal", principal, "err", err)
		return domain.Citizen{}, errorJSON(http.StatusBadGateway, string(usecase.ErrorUpstream), "citizen_directory_error"), false
	}

	c, err = h.citizens.ResolveOrRegister(ctx, handle,
		domain.Profile{DisplayName: in.DisplayName, Phone: in.Phone}, nil)
	if err != nil {
		slog.ErrorContext(ctx, "failed to resolve web citizen", "principal", principal, "err", err)
		return domain.Citizen{}, errorJSON(http.StatusBadGateway, string(usecase.ErrorUpstream), "citizen_directory_error"), false
	}
	return c, events.APIGatewayProxyResponse{}, true
}

func (h *WebHandler) Get(ctx context.Context, ref string) events.APIGatewayProxyResponse {
	out, err := h.lookup.Get(ctx, ref)
	if err != nil {
		return fromError(err)
	}
	g := out.Grievance
	return jsonResponse(http.StatusOK, grievanceResponse{
		GrievanceID:     g.ID,
		TrackingID:      g.TrackingID,
		Status:          string(g.Status),
		Text:            g.Text,
		Location:        g.Location,
		Channel:         string(g.Channel),
		CreatedAt:       g.CreatedAt,
		Dispatched:      g.DispatchedAt != "",
		OutcomeSummary:  g.OutcomeSummary,
		EvidenceReadURL: out.EvidenceReadURL,
	})
}

// principalID is the caller identity set by the API Gateway authorizer.
func principalID(req events.APIGatewayProxyRequest) string {
	v, _ := req.RequestContext.Authorizer["principalId"].(string)
	return strings.TrimSpace(v)
}

// fieldReason names the first failing field, e.g. "invalid_phone".
func fieldReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return "invalid_" + strings.ToLower(verrs[0].Field())
	}
	return "invalid_request"
}

// WebNotifier is the web channel's Notifier. The web form has no push path,
// so outcomes are only visible through GET /grievances/{id}.
type WebNotifier struct{}

func (WebNotifier) Notify(ctx context.Context, corr domain.Correlation, note usecase.Notification) (bool, error) {
	slog.InfoContext(ctx, "web channel has no push path",
		"grievance_id", note.GrievanceID, "principal", corr.ChannelUserID)
	return false, nil
}
