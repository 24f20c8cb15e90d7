package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/evidence"
	"grievance-intake/internal/repository"
	"grievance-intake/internal/session"
	"grievance-intake/internal/usecase"
)

const (
	maxGrievanceText = 4000
	// claimLease bounds how long an interrupted commit blocks its dialogue.
	claimLease = 2 * time.Minute
)

type Directory interface {
	ResolveOrRegister(ctx context.Context, handle string, profile domain.Profile, loc *domain.Location) (domain.Citizen, error)
	GetByHandle(ctx context.Context, handle string) (domain.Citizen, error)
}

type Submitter interface {
	Submit(ctx context.Context, req domain.SubmissionRequest) (usecase.SubmitOutput, error)
}

type FileFetcher interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Reply is what the channel shows the user after one event.
type Reply struct {
	Text   string
	Prompt Prompt
	// State is where the dialogue rests after the event.
	State State
	// Reprompt is set when the event did not advance the dialogue.
	Reprompt bool
}

// Bot runs the dialogue for one channel. Events of one user are handled one
// at a time in arrival order; users never wait on each other.
type Bot struct {
	channel domain.Channel
	store   session.Store
	locks   *session.Locker
	dir     Directory
	submit  Submitter
	files   FileFetcher
	now     func() time.Time
}

func NewBot(channel domain.Channel, store session.Store, locks *session.Locker, dir Directory, submit Submitter, files FileFetcher) (*Bot, error) {
	if channel == "" {
		return nil, errors.New("conversation: channel must not be empty")
	}
	if store == nil {
		return nil, errors.New("conversation: session store must not be nil")
	}
	if locks == nil {
		return nil, errors.New("conversation: locker must not be nil")
	}
	if dir == nil {
		return nil, errors.New("conversation: directory must not be nil")
	}
	if submit == nil {
		return nil, errors.New("conversation: submitter must not be nil")
	}
	if files == nil {
		return nil, errors.New("conversation: file fetcher must not be nil")
	}
	return &Bot{channel: channel, store: store, locks: locks, dir: dir, submit: submit, files: files, now: time.Now}, nil
}

// Handle applies ev to the sender's session. An error means the session
// could not be read; every other outcome is a Reply.
//
// The Locker orders events inside one process. Across processes the session
// version decides: a step that commits outside the store first claims the
// session, and a second writer loses the claim instead of committing twice.
func (b *Bot) Handle(ctx context.Context, ev Event) (Reply, error) {
	userID := strings.TrimSpace(ev.ChannelUserID)
	if userID == "" {
		return Reply{}, errors.New("conversation: event has no channel user id")
	}
	ev.ChannelUserID = userID

	unlock := b.locks.Lock(userID)
	defer unlock()

	sess, found, err := b.store.Get(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("conversation: load session: %w", err)
	}
	if !found {
		sess = session.Session{ChannelUserID: userID, Step: string(StateIdle)}
	}
	state := State(sess.Step)
	if _, ok := Lookup(state, EventCancel); !ok {
		slog.WarnContext(ctx, "session in unknown step, restarting", "channel_user_id", userID, "step", sess.Step)
		state = StateIdle
	}
	if sess.Claimed(b.now(), claimLease) {
		return inProgress(state), nil
	}
	sess.ClaimedAt = 0

	tr, ok := Lookup(state, ev.Kind)
	if !ok {
		return reprompt(state, "", PromptNone), nil
	}

	res := b.apply(ctx, state, tr.Effect, &sess, ev)
	if res.err != nil || res.stay {
		b.release(ctx, sess)
	}
	if res.err != nil {
		slog.WarnContext(ctx, "conversation step failed, session kept",
			"channel_user_id", userID, "state", state, "effect", tr.Effect, "err", res.err)
		return Reply{Text: msgRetry, Prompt: promptFor(state).Prompt, State: state}, nil
	}
	if res.stay {
		return reprompt(state, res.text, res.prompt), nil
	}

	next := tr.Next
	if next.Terminal() || next == StateIdle {
		if err := b.store.Delete(ctx, userID, sess.Version); err != nil {
			if !next.Terminal() {
				slog.WarnContext(ctx, "failed to clear session", "channel_user_id", userID, "err", err)
				return Reply{Text: msgRetry, Prompt: promptFor(state).Prompt, State: state}, nil
			}
			// The commit already happened; the stale session only costs a re-prompt.
			slog.WarnContext(ctx, "failed to clear session after commit", "channel_user_id", userID, "err", err)
		}
		return Reply{Text: res.text, State: next}, nil
	}

	sess.Step = string(next)
	sess.Fields = res.fields
	if _, err := b.store.Put(ctx, sess); err != nil {
		slog.WarnContext(ctx, "failed to save session", "channel_user_id", userID, "state", next, "err", err)
		return Reply{Text: msgRetry, Prompt: promptFor(state).Prompt, State: state}, nil
	}
	r := promptFor(next)
	if res.text != "" {
		r.Text = res.text
	}
	return r, nil
}

// claim marks sess as committing. It runs right before a write outside the
// store; ErrConflict means another writer got there first.
func (b *Bot) claim(ctx context.Context, sess *session.Session) error {
	sess.ClaimedAt = b.now().Unix()
	claimed, err := b.store.Put(ctx, *sess)
	if err != nil {
		sess.ClaimedAt = 0
		return err
	}
	*sess = claimed
	return nil
}

// release drops a claim whose commit did not happen. A release that fails
// leaves the claim to expire after claimLease.
func (b *Bot) release(ctx context.Context, sess session.Session) {
	if sess.ClaimedAt == 0 {
		return
	}
	sess.ClaimedAt = 0
	if _, err := b.store.Put(ctx, sess); err != nil {
		slog.WarnContext(ctx, "failed to release session claim", "channel_user_id", sess.ChannelUserID, "err", err)
	}
}

func claimFailed(err error) result {
	if errors.Is(err, session.ErrConflict) {
		return stay(msgInProgress, PromptNone)
	}
	return failed(fmt.Errorf("claim session: %w", err))
}

func inProgress(state State) Reply {
	return Reply{Text: msgInProgress, State: state, Reprompt: true}
}

// result is the outcome of one effect. stay keeps the current state with a
// re-prompt; err keeps it with a retry notice.
type result struct {
	fields session.Fields
	text   string
	prompt Prompt
	stay   bool
	err    error
}

func stay(text string, prompt Prompt) result {
	return result{text: text, prompt: prompt, stay: true}
}

func failed(err error) result {
	return result{err: err}
}

func reprompt(state State, text string, prompt Prompt) Reply {
	r := promptFor(state)
	if text != "" {
		r.Text = text
		r.Prompt = prompt
	}
	r.Reprompt = true
	return r
}

func (b *Bot) apply(ctx context.Context, state State, effect Effect, sess *session.Session, ev Event) result {
	fields := sess.Fields
	switch effect {
	case EffectBeginRegistration:
		return b.beginRegistration(ctx, ev)
	case EffectBeginComplaint:
		return b.beginComplaint(ctx, ev)
	case EffectCancel:
		if state == StateIdle {
			return result{text: msgNothingToCancel}
		}
		return result{text: msgCancelled}
	case EffectRecordPhone:
		return recordPhone(fields, ev)
	case EffectRegister:
		return b.register(ctx, sess, ev)
	case EffectRecordGrievanceLocation:
		if ev.Location == nil || !validLocation(*ev.Location) {
			return stay("", PromptNone)
		}
		loc := *ev.Location
		fields.GrievanceLocation = &loc
		return result{fields: fields}
	case EffectRecordText:
		return recordText(fields, ev)
	case EffectSubmit:
		return b.submitGrievance(ctx, sess, ev)
	default:
		return failed(fmt.Errorf("conversation: unhandled effect %q", effect))
	}
}

func (b *Bot) handle(userID string) string {
	return string(b.channel) + ":" + userID
}

func (b *Bot) beginRegistration(ctx context.Context, ev Event) result {
	c, err := b.dir.GetByHandle(ctx, b.handle(ev.ChannelUserID))
	switch {
	case err == nil && c.RegistrationState == domain.StateRegistered:
		return stay(msgAlreadyRegistered, PromptNone)
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return failed(err)
	}
	return result{fields: session.Fields{DisplayName: strings.TrimSpace(ev.DisplayName)}}
}

func (b *Bot) beginComplaint(ctx context.Context, ev Event) result {
	c, err := b.dir.GetByHandle(ctx, b.handle(ev.ChannelUserID))
	if errors.Is(err, repository.ErrNotFound) {
		return stay(msgRegisterFirst, PromptNone)
	}
	if err != nil {
		return failed(err)
	}
	if c.RegistrationState != domain.StateRegistered {
		return stay(msgRegisterFirst, PromptNone)
	}
	return result{fields: session.Fields{CitizenID: c.ID}}
}

func recordPhone(fields session.Fields, ev Event) result {
	if ev.Contact == nil || strings.TrimSpace(ev.Contact.Phone) == "" {
		return stay("", PromptNone)
	}
	if ev.Contact.UserID != ev.ChannelUserID {
		return stay(msgForeignContact, PromptContact)
	}
	fields.Phone = normalizePhone(ev.Contact.Phone)
	return result{fields: fields}
}

func (b *Bot) register(ctx context.Context, sess *session.Session, ev Event) result {
	if ev.Location == nil || !validLocation(*ev.Location) {
		return stay("", PromptNone)
	}
	if err := b.claim(ctx, sess); err != nil {
		return claimFailed(err)
	}
	loc := *ev.Location
	profile := domain.Profile{DisplayName: sess.Fields.DisplayName, Phone: sess.Fields.Phone}
	c, err := b.dir.ResolveOrRegister(ctx, b.handle(ev.ChannelUserID), profile, &loc)
	if err != nil {
		return failed(err)
	}
	slog.InfoContext(ctx, "citizen registered", "citizen_id", c.ID, "channel", b.channel)
	return result{text: msgRegistered}
}

func recordText(fields session.Fields, ev Event) result {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return stay(msgEmptyText, PromptNone)
	}
	if utf8.RuneCountInString(text) > maxGrievanceText {
		return stay(msgTextTooLong, PromptNone)
	}
	fields.Text = text
	return result{fields: fields}
}

func (b *Bot) submitGrievance(ctx context.Context, sess *session.Session, ev Event) result {
	if ev.File == nil || ev.File.ID == "" {
		return stay("", PromptNone)
	}
	if err := evidence.CheckDeclaredSize(ev.File.Size); err != nil {
		return stay(rejectProof(), PromptNone)
	}
	data, err := b.files.DownloadFile(ctx, ev.File.ID)
	if err != nil {
		return failed(fmt.Errorf("download proof: %w", err))
	}
	contentType, err := evidence.Validate(data, ev.File.Name)
	if err != nil {
		slog.InfoContext(ctx, "proof rejected", "channel_user_id", ev.ChannelUserID, "err", err)
		return stay(rejectProof(), PromptNone)
	}

	if err := b.claim(ctx, sess); err != nil {
		return claimFailed(err)
	}
	fields := sess.Fields
	out, err := b.submit.Submit(ctx, domain.SubmissionRequest{
		CitizenID: fields.CitizenID,
		Text:      fields.Text,
		Location:  fields.GrievanceLocation,
		Evidence:  &domain.Evidence{Name: ev.File.Name, ContentType: contentType, Data: data},
		Correlation: domain.Correlation{
			Channel:       b.channel,
			ChannelUserID: ev.ChannelUserID,
		},
	})
	if err != nil {
		var ue *usecase.Error
		if errors.As(err, &ue) && ue.Reason == "invalid_evidence" {
			return stay(rejectProof(), PromptNone)
		}
		return failed(err)
	}
	if out.Degraded() {
		return result{text: fmt.Sprintf(msgSubmittedDegraded, out.TrackingID)}
	}
	return result{text: fmt.Sprintf(msgSubmitted, out.TrackingID)}
}

func normalizePhone(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), " ", "")
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}

func validLocation(l domain.Location) bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}
