package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Router is the Lambda entry point. It dispatches API Gateway proxy events
// to the web, bot and callback handlers.
type Router struct {
	web       *WebHandler
	bot       *BotWebhook
	callbacks *CallbackHandler
}

func NewRouter(web *WebHandler, bot *BotWebhook, callbacks *CallbackHandler) (*Router, error) {
	if web == nil {
		return nil, errors.New("handler: web handler must not be nil")
	}
	if bot == nil {
		return nil, errors.New("handler: bot webhook must not be nil")
	}
	if callbacks == nil {
		return nil, errors.New("handler: callback handler must not be nil")
	}
	return &Router{web: web, bot: bot, callbacks: callbacks}, nil
}

func (r *Router) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	path := "/" + strings.Trim(req.Path, "/")

	var resp events.APIGatewayProxyResponse
	switch {
	case path == "/grievances":
		resp = r.only(req, http.MethodPost, func() events.APIGatewayProxyResponse {
			return r.web.Submit(ctx, req)
		})
	case strings.HasPrefix(path, "/grievances/"):
		ref := req.PathParameters["id"]
		if ref == "" {
			ref = strings.TrimPrefix(path, "/grievances/")
		}
		resp = r.only(req, http.MethodGet, func() events.APIGatewayProxyResponse {
			return r.web.Get(ctx, ref)
		})
	case path == "/bot/webhook":
		resp = r.only(req, http.MethodPost, func() events.APIGatewayProxyResponse {
			return r.bot.Handle(ctx, req)
		})
	case path == "/callbacks":
		resp = r.only(req, http.MethodPost, func() events.APIGatewayProxyResponse {
			return r.callbacks.Handle(ctx, req)
		})
	default:
		resp = errorJSON(http.StatusNotFound, codeRouteMissing, "")
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = corrID
	slog.InfoContext(ctx, "request handled",
		"method", req.HTTPMethod, "path", path, "status", resp.StatusCode, "correlation_id", corrID)
	return resp, nil
}

func (r *Router) only(req events.APIGatewayProxyRequest, method string, fn func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if !strings.EqualFold(req.HTTPMethod, method) {
		return errorJSON(http.StatusMethodNotAllowed, codeMethod, "")
	}
	return fn()
}
