package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"grievance-intake/internal/domain"
	"grievance-intake/internal/repository"
)

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, bytes.Repeat([]byte{0x01}, 64)...)

// memRepo is an in-memory GrievanceWriter that enforces tracking-id
// uniqueness like the DynamoDB transaction does.
type memRepo struct {
	mu         sync.Mutex
	grievances map[string]domain.Grievance
	tracking   map[string]string
	dispatched map[string]string
	createErr  error
	createCall int
	markErr    error
	seq        int64
	seqErr     error
}

func newMemRepo() *memRepo {
	return &memRepo{
		grievances: map[string]domain.Grievance{},
		tracking:   map[string]string{},
		dispatched: map[string]string{},
	}
}

func (r *memRepo) CreateGrievance(_ context.Context, g domain.Grievance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCall++
	if r.createErr != nil {
		return r.createErr
	}
	if _, taken := r.tracking[g.TrackingID]; taken {
		return fmt.Errorf("memrepo: %w", repository.ErrConflict)
	}
	r.tracking[g.TrackingID] = g.ID
	r.grievances[g.ID] = g
	return nil
}

func (r *memRepo) NextTrackingSequence(_ context.Context, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seqErr != nil {
		return 0, r.seqErr
	}
	r.seq++
	return r.seq, nil
}

func (r *memRepo) MarkDispatched(_ context.Context, id, receipt string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	r.dispatched[id] = receipt
	return nil
}

type fakeBlobs struct {
	uploadErr error
	deleteErr error
	uploads   []string
	deleted   []string
	order     *[]string
}

func (b *fakeBlobs) Upload(_ context.Context, _ []byte, name, contentType string) (string, error) {
	if b.order != nil {
		*b.order = append(*b.order, "upload")
	}
	if b.uploadErr != nil {
		return "", b.uploadErr
	}
	url := "s3://bucket/evidence/" + name
	b.uploads = append(b.uploads, contentType)
	return url, nil
}

func (b *fakeBlobs) Delete(_ context.Context, url string) error {
	b.deleted = append(b.deleted, url)
	return b.deleteErr
}

type fakeQueue struct {
	err      error
	messages []domain.DispatchMessage
	order    *[]string
}

func (q *fakeQueue) Enqueue(_ context.Context, msg domain.DispatchMessage) (string, error) {
	if q.order != nil {
		*q.order = append(*q.order, "enqueue")
	}
	if q.err != nil {
		return "", q.err
	}
	q.messages = append(q.messages, msg)
	return fmt.Sprintf("m-%d", len(q.messages)), nil
}

// orderedRepo records when the grievance transaction runs.
type orderedRepo struct {
	*memRepo
	order *[]string
}

func (r orderedRepo) CreateGrievance(ctx context.Context, g domain.Grievance) error {
	*r.order = append(*r.order, "persist")
	return r.memRepo.CreateGrievance(ctx, g)
}

func newTestSubmit(t *testing.T, repo GrievanceWriter, blobs *fakeBlobs, q *fakeQueue) *SubmitService {
	t.Helper()
	svc, err := NewSubmitService(repo, blobs, q)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC) }
	return svc
}

func botRequest() domain.SubmissionRequest {
	return domain.SubmissionRequest{
		CitizenID:   "c-1",
		Text:        "No water supply for 3 days",
		Location:    &domain.Location{Latitude: 19.07, Longitude: 72.87},
		Correlation: domain.Correlation{Channel: domain.ChannelTelegram, ChannelUserID: "42"},
	}
}

func expectError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewSubmitService_ValidatesDependencies(t *testing.T) {
	_, err := NewSubmitService(nil, &fakeBlobs{}, &fakeQueue{})
	require.Error(t, err)
	_, err = NewSubmitService(newMemRepo(), nil, &fakeQueue{})
	require.Error(t, err)
	_, err = NewSubmitService(newMemRepo(), &fakeBlobs{}, nil)
	require.Error(t, err)
}

func TestSubmit_WithEvidence_FullSuccess(t *testing.T) {
	repo, blobs, q := newMemRepo(), &fakeBlobs{}, &fakeQueue{}
	svc := newTestSubmit(t, repo, blobs, q)

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "leak.jpg", Data: jpegBytes}
	out, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomeDispatched, out.Outcome)
	require.False(t, out.Degraded())
	require.True(t, ValidTrackingID(out.TrackingID))
	require.Contains(t, out.TrackingID, "GRV-20260304-")

	require.Len(t, repo.grievances, 1)
	g := repo.grievances[out.GrievanceID]
	require.Equal(t, domain.StatusPendingAnalysis, g.Status)
	require.Equal(t, "s3://bucket/evidence/leak.jpg", g.EvidenceURL)
	require.Equal(t, &domain.Location{Latitude: 19.07, Longitude: 72.87}, g.Location)
	require.Equal(t, "No water supply for 3 days", g.Text)
	require.Equal(t, []string{"image/jpeg"}, blobs.uploads)

	require.Len(t, q.messages, 1)
	msg := q.messages[0]
	require.Equal(t, out.GrievanceID, msg.GrievanceID)
	require.Equal(t, "c-1", msg.CitizenID)
	require.Equal(t, req.Correlation, msg.Correlation)
	require.NotNil(t, msg.EvidenceURL)
	require.Equal(t, g.EvidenceURL, *msg.EvidenceURL)
	require.Equal(t, "m-1", repo.dispatched[out.GrievanceID])
}

func TestSubmit_SideEffectOrder(t *testing.T) {
	var order []string
	repo := orderedRepo{memRepo: newMemRepo(), order: &order}
	svc := newTestSubmit(t, repo, &fakeBlobs{order: &order}, &fakeQueue{order: &order})

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "leak.jpg", Data: jpegBytes}
	_, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []string{"upload", "persist", "enqueue"}, order)
}

func TestSubmit_UploadFailure_NothingPersisted(t *testing.T) {
	repo, q := newMemRepo(), &fakeQueue{}
	svc := newTestSubmit(t, repo, &fakeBlobs{uploadErr: errors.New("s3 unavailable")}, q)

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "leak.jpg", Data: jpegBytes}
	_, err := svc.Submit(context.Background(), req)
	expectError(t, err, ErrorUpstream, "evidence_upload_error")
	require.Empty(t, repo.grievances)
	require.Zero(t, repo.createCall)
	require.Empty(t, q.messages)
}

func TestSubmit_InvalidEvidence_NoSideEffects(t *testing.T) {
	repo, blobs := newMemRepo(), &fakeBlobs{}
	svc := newTestSubmit(t, repo, blobs, &fakeQueue{})

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "setup.exe", Data: append([]byte("MZ\x90\x00"), bytes.Repeat([]byte{0}, 64)...)}
	_, err := svc.Submit(context.Background(), req)
	expectError(t, err, ErrorValidation, "invalid_evidence")
	require.Empty(t, blobs.uploads)
	require.Empty(t, repo.grievances)
}

func TestSubmit_EnqueueFailure_IsDegradedSuccess(t *testing.T) {
	repo := newMemRepo()
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{err: errors.New("sqs throttled")})

	req := botRequest()
	req.Location = nil
	out, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomeDegraded, out.Outcome)
	require.True(t, out.Degraded())
	require.Len(t, repo.grievances, 1)
	require.Contains(t, repo.grievances, out.GrievanceID)
	require.Empty(t, repo.dispatched)
}

func TestSubmit_PersistFailure_KeepsUploadedEvidence(t *testing.T) {
	repo := newMemRepo()
	repo.createErr = errors.New("dynamodb: request timed out")
	blobs, q := &fakeBlobs{}, &fakeQueue{}
	svc := newTestSubmit(t, repo, blobs, q)

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "leak.jpg", Data: jpegBytes}
	_, err := svc.Submit(context.Background(), req)
	expectError(t, err, ErrorUpstream, "persist_error")
	require.Empty(t, blobs.deleted, "the write may have committed")
	require.Empty(t, q.messages)
}

func TestSubmit_DefinitePersistFailure_DeletesUploadedEvidence(t *testing.T) {
	repo := newMemRepo()
	repo.tracking["GRV-20260304-000001"] = "existing"
	repo.seqErr = errors.New("throttled")
	blobs := &fakeBlobs{}
	svc := newTestSubmit(t, repo, blobs, &fakeQueue{})

	orig := newTrackingID
	t.Cleanup(func() { newTrackingID = orig })
	newTrackingID = func(time.Time) (string, error) { return "GRV-20260304-000001", nil }

	req := botRequest()
	req.Evidence = &domain.Evidence{Name: "leak.jpg", Data: jpegBytes}
	_, err := svc.Submit(context.Background(), req)
	expectError(t, err, ErrorUpstream, "tracking_sequence_error")
	require.Equal(t, []string{"s3://bucket/evidence/leak.jpg"}, blobs.deleted)
	require.Empty(t, repo.grievances)
}

func TestSubmit_TrackingCollision_Regenerates(t *testing.T) {
	repo := newMemRepo()
	repo.tracking["GRV-20260304-000001"] = "existing"
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{})

	ids := []string{"GRV-20260304-000001", "GRV-20260304-000001", "GRV-20260304-000002"}
	orig := newTrackingID
	t.Cleanup(func() { newTrackingID = orig })
	newTrackingID = func(time.Time) (string, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	out, err := svc.Submit(context.Background(), botRequest())
	require.NoError(t, err)
	require.Equal(t, "GRV-20260304-000002", out.TrackingID)
	require.Equal(t, 3, repo.createCall)
}

func TestSubmit_TrackingCollision_FallsBackToDaySequence(t *testing.T) {
	repo := newMemRepo()
	repo.tracking["GRV-20260304-000001"] = "existing"
	repo.tracking["GRV-20260304-000002"] = "existing"
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{})

	orig := newTrackingID
	t.Cleanup(func() { newTrackingID = orig })
	newTrackingID = func(time.Time) (string, error) { return "GRV-20260304-000001", nil }

	out, err := svc.Submit(context.Background(), botRequest())
	require.NoError(t, err)
	require.Equal(t, "GRV-20260304-000003", out.TrackingID)
	require.Equal(t, maxTrackingAttempts+3, repo.createCall)
	require.Len(t, repo.grievances, 1)
}

func TestSubmit_TrackingSpaceExhausted(t *testing.T) {
	repo := newMemRepo()
	repo.tracking["GRV-20260304-000001"] = "existing"
	repo.seq = maxTrackingSeq
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{})

	orig := newTrackingID
	t.Cleanup(func() { newTrackingID = orig })
	newTrackingID = func(time.Time) (string, error) { return "GRV-20260304-000001", nil }

	_, err := svc.Submit(context.Background(), botRequest())
	expectError(t, err, ErrorInternal, "tracking_space_exhausted")
	require.Empty(t, repo.grievances)
}

func TestSubmit_MarkDispatchedFailureStillFullSuccess(t *testing.T) {
	repo := newMemRepo()
	repo.markErr = errors.New("throttled")
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{})

	out, err := svc.Submit(context.Background(), botRequest())
	require.NoError(t, err)
	require.Equal(t, OutcomeDispatched, out.Outcome)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	svc := newTestSubmit(t, newMemRepo(), &fakeBlobs{}, &fakeQueue{})
	ctx := context.Background()

	req := botRequest()
	req.Text = "   "
	_, err := svc.Submit(ctx, req)
	expectError(t, err, ErrorValidation, "empty_text")

	req = botRequest()
	req.CitizenID = ""
	_, err = svc.Submit(ctx, req)
	expectError(t, err, ErrorValidation, "missing_citizen")

	req = botRequest()
	req.Correlation = domain.Correlation{}
	_, err = svc.Submit(ctx, req)
	expectError(t, err, ErrorValidation, "missing_correlation")

	req = botRequest()
	req.Location = &domain.Location{Latitude: 91}
	_, err = svc.Submit(ctx, req)
	expectError(t, err, ErrorValidation, "invalid_location")

	req = botRequest()
	req.Text = string(bytes.Repeat([]byte("a"), maxGrievanceText+1))
	_, err = svc.Submit(ctx, req)
	expectError(t, err, ErrorValidation, "text_too_long")
}

func TestSubmit_TrackingIDsAreUnique(t *testing.T) {
	repo := newMemRepo()
	svc := newTestSubmit(t, repo, &fakeBlobs{}, &fakeQueue{})

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		out, err := svc.Submit(context.Background(), botRequest())
		require.NoError(t, err)
		require.True(t, ValidTrackingID(out.TrackingID), out.TrackingID)
		require.False(t, seen[out.TrackingID])
		seen[out.TrackingID] = true
	}
	require.Len(t, repo.grievances, 200)
}

func TestNewTrackingID_Format(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := NewTrackingID(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Regexp(t, `^GRV-20261231-\d{6}$`, id)
	}
	id, err := SequentialTrackingID(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC), 42)
	require.NoError(t, err)
	require.Equal(t, "GRV-20261231-000042", id)
	_, err = SequentialTrackingID(time.Now(), maxTrackingSeq+1)
	require.Error(t, err)

	require.False(t, ValidTrackingID("GRV-2026123-000001"))
	require.False(t, ValidTrackingID("grv-20261231-000001"))
}
