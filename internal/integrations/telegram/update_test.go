package telegram

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"grievance-intake/internal/conversation"
	"grievance-intake/internal/domain"
)

func parseUpdate(t *testing.T, raw string) Update {
	t.Helper()
	var u Update
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func TestUpdateEvent_Kinds(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want conversation.Event
	}{
		{
			name: "start command with bot suffix",
			raw:  `{"update_id":1,"message":{"chat":{"id":42,"type":"private"},"from":{"id":42,"first_name":"Asha","last_name":"Rao"},"text":"/start@GrievanceBot"}}`,
			want: conversation.Event{Kind: conversation.EventStart, ChannelUserID: "42", DisplayName: "Asha Rao"},
		},
		{
			name: "complain",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"text":"/complain"}}`,
			want: conversation.Event{Kind: conversation.EventComplain, ChannelUserID: "42"},
		},
		{
			name: "cancel",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"text":"/Cancel now"}}`,
			want: conversation.Event{Kind: conversation.EventCancel, ChannelUserID: "42"},
		},
		{
			name: "plain text",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"text":"No water supply for 3 days"}}`,
			want: conversation.Event{Kind: conversation.EventText, ChannelUserID: "42", Text: "No water supply for 3 days"},
		},
		{
			name: "unknown command is text",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"text":"/help"}}`,
			want: conversation.Event{Kind: conversation.EventText, ChannelUserID: "42", Text: "/help"},
		},
		{
			name: "contact",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"contact":{"phone_number":"+919800000000","user_id":42}}}`,
			want: conversation.Event{Kind: conversation.EventContact, ChannelUserID: "42",
				Contact: &conversation.Contact{Phone: "+919800000000", UserID: "42"}},
		},
		{
			name: "location",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"location":{"latitude":19.07,"longitude":72.87}}}`,
			want: conversation.Event{Kind: conversation.EventLocation, ChannelUserID: "42",
				Location: &domain.Location{Latitude: 19.07, Longitude: 72.87}},
		},
		{
			name: "document",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"document":{"file_id":"d1","file_name":"bill.pdf","file_size":2048}}}`,
			want: conversation.Event{Kind: conversation.EventFile, ChannelUserID: "42",
				File: &conversation.File{ID: "d1", Name: "bill.pdf", Size: 2048}},
		},
		{
			name: "photo picks largest size",
			raw:  `{"message":{"chat":{"id":42,"type":"private"},"photo":[{"file_id":"small","file_size":10},{"file_id":"large","file_size":900}]}}`,
			want: conversation.Event{Kind: conversation.EventFile, ChannelUserID: "42",
				File: &conversation.File{ID: "large", Name: "photo.jpg", Size: 900}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := parseUpdate(t, tc.raw).Event()
			require.True(t, ok)
			require.Equal(t, tc.want, ev)
		})
	}
}

func TestUpdateEvent_Ignored(t *testing.T) {
	for _, raw := range []string{
		`{"update_id":1}`,
		`{"message":{"chat":{"id":-100,"type":"group"},"text":"/start"}}`,
	} {
		_, ok := parseUpdate(t, raw).Event()
		require.False(t, ok, raw)
	}
}

func TestMarkup(t *testing.T) {
	m := Markup(conversation.PromptContact)
	require.True(t, m.Keyboard[0][0].RequestContact)
	m = Markup(conversation.PromptLocation)
	require.True(t, m.Keyboard[0][0].RequestLocation)
	require.True(t, Markup(conversation.PromptNone).RemoveKeyboard)
}
