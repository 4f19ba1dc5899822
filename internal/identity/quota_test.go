package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeQuotaRefresher struct {
	quota ModelQuota
	err   error
}

func (f *fakeQuotaRefresher) FetchQuota(ctx context.Context, id *Identity) (ModelQuota, error) {
	return f.quota, f.err
}

func TestRefreshQuota_AppliesFetchedQuota(t *testing.T) {
	id := NewIdentity("id-1", "a@example.com", "r")
	r := &fakeQuotaRefresher{quota: ModelQuota{Percentage: 77}}

	err := RefreshQuota(context.Background(), id, r)
	require.NoError(t, err)
	require.Equal(t, 77, id.Quota.Percentage)
}

func TestRefreshQuota_ForbiddenMarksUnavailableWithoutError(t *testing.T) {
	id := NewIdentity("id-1", "a@example.com", "r")
	r := &fakeQuotaRefresher{err: ErrQuotaForbidden}

	err := RefreshQuota(context.Background(), id, r)
	require.NoError(t, err)
	require.True(t, id.Unavailable)
}

func TestRefreshQuota_GenericErrorPropagates(t *testing.T) {
	id := NewIdentity("id-1", "a@example.com", "r")
	r := &fakeQuotaRefresher{err: errors.New("network error")}

	err := RefreshQuota(context.Background(), id, r)
	require.Error(t, err)
	require.False(t, id.Unavailable)
}

func TestErrQuotaForbidden_ErrorMessage(t *testing.T) {
	require.NotEmpty(t, ErrQuotaForbidden.Error())
}
