package telegram

import (
	"strconv"
	"strings"

	"grievance-intake/internal/conversation"
	"grievance-intake/internal/domain"
)

// Update is the subset of a Bot API webhook update the bot consumes.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64       `json:"message_id"`
	From      *User       `json:"from"`
	Chat      Chat        `json:"chat"`
	Text      string      `json:"text"`
	Contact   *Contact    `json:"contact"`
	Location  *Location   `json:"location"`
	Document  *Document   `json:"document"`
	Photo     []PhotoSize `json:"photo"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type Contact struct {
	PhoneNumber string `json:"phone_number"`
	UserID      int64  `json:"user_id"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
}

type PhotoSize struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
}

var commands = map[string]conversation.EventKind{
	"/start":    conversation.EventStart,
	"/complain": conversation.EventComplain,
	"/cancel":   conversation.EventCancel,
}

// Event maps the update to a conversation event. ok is false for updates
// the bot ignores: edits, channel posts and group chats.
func (u Update) Event() (ev conversation.Event, ok bool) {
	m := u.Message
	if m == nil || m.Chat.Type != "private" {
		return conversation.Event{}, false
	}
	ev = conversation.Event{ChannelUserID: strconv.FormatInt(m.Chat.ID, 10)}
	if m.From != nil {
		ev.DisplayName = strings.TrimSpace(m.From.FirstName + " " + m.From.LastName)
	}

	switch {
	case m.Contact != nil:
		ev.Kind = conversation.EventContact
		ev.Contact = &conversation.Contact{Phone: m.Contact.PhoneNumber}
		if m.Contact.UserID != 0 {
			ev.Contact.UserID = strconv.FormatInt(m.Contact.UserID, 10)
		}
	case m.Location != nil:
		ev.Kind = conversation.EventLocation
		ev.Location = &domain.Location{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
	case m.Document != nil:
		ev.Kind = conversation.EventFile
		ev.File = &conversation.File{ID: m.Document.FileID, Name: m.Document.FileName, Size: m.Document.FileSize}
	case len(m.Photo) > 0:
		// Sizes are listed smallest first.
		p := m.Photo[len(m.Photo)-1]
		ev.Kind = conversation.EventFile
		ev.File = &conversation.File{ID: p.FileID, Name: "photo.jpg", Size: p.FileSize}
	default:
		ev.Kind = conversation.EventText
		ev.Text = m.Text
		if kind, ok := commands[command(m.Text)]; ok {
			ev.Kind = kind
			ev.Text = ""
		}
	}
	return ev, true
}

// command returns the leading /command of text without any @botname suffix.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	word, _, _ := strings.Cut(text, " ")
	word, _, _ = strings.Cut(word, "@")
	return strings.ToLower(word)
}

// Markup renders a conversation prompt as a reply keyboard.
func Markup(p conversation.Prompt) *ReplyMarkup {
	switch p {
	case conversation.PromptContact:
		return &ReplyMarkup{
			Keyboard:        [][]KeyboardButton{{{Text: "Share phone number", RequestContact: true}}},
			OneTimeKeyboard: true,
			ResizeKeyboard:  true,
		}
	case conversation.PromptLocation:
		return &ReplyMarkup{
			Keyboard:        [][]KeyboardButton{{{Text: "Share location", RequestLocation: true}}},
			OneTimeKeyboard: true,
			ResizeKeyboard:  true,
		}
	default:
		return &ReplyMarkup{RemoveKeyboard: true}
	}
}
