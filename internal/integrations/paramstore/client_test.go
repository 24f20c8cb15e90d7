package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	in     *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.in = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_SecureStringDecrypted(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name:  strPtr("/grievance-intake/telegram-token"),
		Value: strPtr(`{"token":"123:abc"}`),
		Type:  types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /grievance-intake/telegram-token ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"123:abc"}`, v)
	require.Equal(t, "/grievance-intake/telegram-token", *api.in.Name)
	require.True(t, *api.in.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

type countingGetter struct {
	calls int
	val   string
	err   error
}

func (g *countingGetter) GetParameter(_ context.Context, _ string) (string, error) {
	g.calls++
	return g.val, g.err
}

func TestCache_RemembersValues(t *testing.T) {
	g := &countingGetter{val: `{"secret":"s3cr3t"}`}
	c, err := NewCache(g)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		v, err := c.GetParameter(context.Background(), "/grievance-intake/webhook-secret")
		require.NoError(t, err)
		require.Equal(t, `{"secret":"s3cr3t"}`, v)
	}
	require.Equal(t, 1, g.calls)
}

func TestCache_RetriesAfterFailure(t *testing.T) {
	g := &countingGetter{err: errors.New("throttled")}
	c, err := NewCache(g)
	require.NoError(t, err)

	_, err = c.GetParameter(context.Background(), "/grievance-intake/callback-secret")
	require.Error(t, err)

	g.err, g.val = nil, `{"secret":"x"}`
	v, err := c.GetParameter(context.Background(), "/grievance-intake/callback-secret")
	require.NoError(t, err)
	require.Equal(t, `{"secret":"x"}`, v)
	require.Equal(t, 2, g.calls)

	_, err = NewCache(nil)
	require.Error(t, err)
}
