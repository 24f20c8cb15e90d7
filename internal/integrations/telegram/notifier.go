package telegram

import (
	"context"
	"errors"
	"fmt"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/usecase"
)

type messageSender interface {
	SendMessage(ctx context.Context, chatID, text string, markup *ReplyMarkup) error
}

// Notifier pushes analysis outcomes back into the citizen's chat.
type Notifier struct {
	sender messageSender
}

func NewNotifier(sender messageSender) (*Notifier, error) {
	if sender == nil {
		return nil, errors.New("telegram: sender must not be nil")
	}
	return &Notifier{sender: sender}, nil
}

func (n *Notifier) Notify(ctx context.Context, corr domain.Correlation, note usecase.Notification) (bool, error) {
	text := fmt.Sprintf("Update on grievance %s: %s", note.TrackingID, note.OutcomeSummary)
	if note.OutcomeSummary == "" {
		text = fmt.Sprintf("Your grievance %s has been reviewed.", note.TrackingID)
	}
	if err := n.sender.SendMessage(ctx, corr.ChannelUserID, text, nil); err != nil {
		return false, err
	}
	return true, nil
}
