package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/integrations/paramstore"
	"grievance-intake/internal/usecase"
)

const callbackSecretHeader = "X-Callback-Secret"

type CallbackIngestor interface {
	Ingest(ctx context.Context, res domain.CallbackResult) (usecase.CallbackOutput, error)
}

type callbackRequest struct {
	GrievanceID    string              `json:"grievance_id"`
	Correlation    *domain.Correlation `json:"channel_correlation"`
	OutcomeSummary string              `json:"outcome_summary"`
}

type callbackResponse struct {
	Notified  bool `json:"notified"`
	Duplicate bool `json:"duplicate"`
}

// CallbackHandler accepts analysis results from the worker. Unknown
// grievances answer 404 so the worker stops retrying them.
type CallbackHandler struct {
	ingest CallbackIngestor
	secret sharedSecret
}

func NewCallbackHandler(ingest CallbackIngestor, params paramstore.Getter, secretParam string) (*CallbackHandler, error) {
	if ingest == nil {
		return nil, errors.New("handler: callback ingestor must not be nil")
	}
	if secretParam != "" && params == nil {
		return nil, errors.New("handler: parameter getter required for callback secret")
	}
	return &CallbackHandler{ingest: ingest, secret: sharedSecret{params: params, name: secretParam}}, nil
}

func (h *CallbackHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	ok, err := h.secret.matches(ctx, header(req.Headers, callbackSecretHeader))
	if err != nil {
		slog.ErrorContext(ctx, "failed to verify callback secret", "err", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "secret_unavailable")
	}
	if !ok {
		return errorJSON(http.StatusUnauthorized, codeUnauthorized, "bad_callback_secret")
	}

	var in callbackRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return errorJSON(http.StatusBadRequest, codeInvalidBody, "malformed_json")
	}

	out, err := h.ingest.Ingest(ctx, domain.CallbackResult{
		GrievanceID:    in.GrievanceID,
		Correlation:    in.Correlation,
		OutcomeSummary: in.OutcomeSummary,
	})
	if err != nil {
		slog.WarnContext(ctx, "callback rejected", "grievance_id", in.GrievanceID, "err", err)
		return fromError(err)
	}
	return jsonResponse(http.StatusOK, callbackResponse{Notified: out.Notified, Duplicate: out.Duplicate})
}
