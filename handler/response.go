package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"grievance-intake/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Codes raised by the HTTP layer itself, next to usecase.ErrorCode values.
const (
	codeInvalidBody  = "INVALID_BODY"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeRouteMissing = "ROUTE_NOT_FOUND"
	codeMethod       = "METHOD_NOT_ALLOWED"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func errorJSON(status int, code, reason string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Reason: reason})
}

// fromError maps a usecase error to its HTTP status. Anything that is not a
// *usecase.Error is an internal failure.
func fromError(err error) events.APIGatewayProxyResponse {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "")
	}
	status := http.StatusInternalServerError
	switch ue.Code {
	case usecase.ErrorValidation:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}
	return errorJSON(status, string(ue.Code), ue.Reason)
}

// correlationID reuses the caller's X-Correlation-Id, matched
// case-insensitively, or mints a new one.
func correlationID(headers map[string]string) string {
	if v := header(headers, correlationHeader); v != "" {
		return v
	}
	return uuid.NewString()
}

func header(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
