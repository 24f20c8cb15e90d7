package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"grievance-intake/internal/conversation"
	"grievance-intake/internal/integrations/paramstore"
	"grievance-intake/internal/integrations/telegram"
	"grievance-intake/internal/usecase"
)

const botSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const msgBotUnavailable = "The service is temporarily unavailable. Please try again in a moment."

type Conversation interface {
	Handle(ctx context.Context, ev conversation.Event) (conversation.Reply, error)
}

type ReplySender interface {
	SendMessage(ctx context.Context, chatID, text string, markup *telegram.ReplyMarkup) error
}

// BotWebhook receives Bot API updates. Each update is one conversation
// event; the reply goes back through the Bot API rather than in the HTTP
// response, and the webhook always acknowledges once the update was read.
type BotWebhook struct {
	conv   Conversation
	sender ReplySender
	secret sharedSecret
}

// NewBotWebhook creates the webhook handler. When secretParam is not empty
// every update must carry the secret stored under that parameter.
func NewBotWebhook(conv Conversation, sender ReplySender, params paramstore.Getter, secretParam string) (*BotWebhook, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if sender == nil {
		return nil, errors.New("handler: reply sender must not be nil")
	}
	if secretParam != "" && params == nil {
		return nil, errors.New("handler: parameter getter required for webhook secret")
	}
	return &BotWebhook{conv: conv, sender: sender, secret: sharedSecret{params: params, name: secretParam}}, nil
}

func (h *BotWebhook) Handle(ctx context.Context, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	ok, err := h.secret.matches(ctx, header(req.Headers, botSecretHeader))
	if err != nil {
		slog.ErrorContext(ctx, "failed to verify webhook secret", "err", err)
		return errorJSON(http.StatusInternalServerError, string(usecase.ErrorInternal), "secret_unavailable")
	}
	if !ok {
		return errorJSON(http.StatusUnauthorized, codeUnauthorized, "bad_webhook_secret")
	}

	var upd telegram.Update
	if err := json.Unmarshal([]byte(req.Body), &upd); err != nil {
		return errorJSON(http.StatusBadRequest, codeInvalidBody, "malformed_update")
	}
	ev, ok := upd.Event()
	if !ok {
		return jsonResponse(http.StatusOK, map[string]bool{"ignored": true})
	}

	reply, err := h.conv.Handle(ctx, ev)
	if err != nil {
		slog.ErrorContext(ctx, "conversation failed", "update_id", upd.UpdateID, "err", err)
		reply = conversation.Reply{Text: msgBotUnavailable}
	}
	if err := h.sender.SendMessage(ctx, ev.ChannelUserID, reply.Text, telegram.Markup(reply.Prompt)); err != nil {
		slog.WarnContext(ctx, "failed to deliver bot reply",
			"update_id", upd.UpdateID, "state", reply.State, "err", err)
	}
	return jsonResponse(http.StatusOK, map[string]string{"state": string(reply.State)})
}
