package identity

import "context"

// QuotaRefresher fetches a fresh quota snapshot for one identity from the
// upstream's model-listing endpoint. The periodic polling job that calls
// this on a schedule is an external collaborator; the pool only exposes
// the hook and applies whatever snapshot comes back.
type QuotaRefresher interface {
	FetchQuota(ctx context.Context, id *Identity) (ModelQuota, error)
}

// RefreshQuota applies one QuotaRefresher pass to id, storing the result
// or marking the identity permission-anomalous on a 403-shaped failure.
// forbidden is surgical: the refresher signals it via ErrQuotaForbidden rather
// than a generic error, since a 403 here isn't a retryable fetch failure.
func RefreshQuota(ctx context.Context, id *Identity, r QuotaRefresher) error {
	quota, err := r.FetchQuota(ctx, id)
	if err != nil {
		if err == ErrQuotaForbidden {
			id.MarkForbidden()
			id.mu.Lock()
			id.Unavailable = true
			id.mu.Unlock()
			return nil
		}
		return err
	}
	id.mu.Lock()
	id.Quota = quota
	id.mu.Unlock()
	return nil
}

// ErrQuotaForbidden is returned by a QuotaRefresher when the upstream
// responds 403 to the quota-snapshot fetch, marking permission-anomalous
// rather than a transient fetch error.
var ErrQuotaForbidden = quotaForbiddenError{}

type quotaForbiddenError struct{}

func (quotaForbiddenError) Error() string { return "identity: quota fetch forbidden" }
