/*
lifecycle.go - Redemption Lifecycle: pending -> paid / expired

PURPOSE:
  Lists, transitions and exports RedemptionRequests created by Exchange.

STATE MACHINE:
  pending --(MarkPaid)--------------------> paid     [terminal]
  pending --(ExpireOlderThan, age > win)--> expired  [terminal]

  MarkPaid on a paid request succeeds without change. MarkPaid on an
  expired request fails with ErrInvalidTransition. MarkPaid on an unknown
  id fails with ErrRedemptionNotFound.

  Expiry does not return the reserved coins to the account; the coins
  stay counted as redeemed until the next monthly reset.

SWEEPS:
  Nothing runs on its own. ExpireStale is called by the API endpoint or
  by an operator-configured cron entry (api/scheduler.go).

SEE ALSO:
  - csv.go: Export format
  - engine.go: Creates pending requests
*/
package coin

import (
	"context"
	"fmt"
	"time"
)

// Lifecycle manages redemption request status changes and listings.
type Lifecycle struct {
	*deps
}

// ListPending returns pending requests in creation order.
func (l *Lifecycle) ListPending(ctx context.Context) ([]RedemptionRequest, error) {
	rs, err := l.store.ListRedemptions(ctx, RedemptionFilter{Status: StatusPending})
	if err != nil {
		return nil, wrapStore("list pending redemptions", err)
	}
	return rs, nil
}

// ExportAll returns every request regardless of status, in creation order.
func (l *Lifecycle) ExportAll(ctx context.Context) ([]RedemptionRequest, error) {
	rs, err := l.store.ListRedemptions(ctx, RedemptionFilter{})
	if err != nil {
		return nil, wrapStore("export redemptions", err)
	}
	return rs, nil
}

// Get returns a single request.
func (l *Lifecycle) Get(ctx context.Context, id RedemptionID) (RedemptionRequest, error) {
	r, err := l.store.GetRedemption(ctx, id)
	if err != nil {
		return RedemptionRequest{}, wrapStore("get redemption", err)
	}
	if r == nil {
		return RedemptionRequest{}, fmt.Errorf("%w: id %d", ErrRedemptionNotFound, id)
	}
	return *r, nil
}

// MarkPaid moves a pending request to paid and returns it.
func (l *Lifecycle) MarkPaid(ctx context.Context, id RedemptionID) (out RedemptionRequest, err error) {
	defer func() { l.observer.Operation(OpMarkPaid, err) }()

	if id <= 0 {
		return RedemptionRequest{}, fmt.Errorf("%w: redemption id is required", ErrInvalidRequest)
	}

	changed := false
	err = l.store.WithTx(ctx, func(s Store) error {
		r, err := s.GetRedemption(ctx, id)
		if err != nil {
			return wrapStore("get redemption", err)
		}
		if r == nil {
			return fmt.Errorf("%w: id %d", ErrRedemptionNotFound, id)
		}

		out = *r
		if r.Status == StatusPaid {
			return nil
		}
		if !r.Status.CanTransitionTo(StatusPaid) {
			return &TransitionError{ID: id, From: r.Status, To: StatusPaid}
		}

		if err := s.SetRedemptionStatus(ctx, id, StatusPaid); err != nil {
			return wrapStore("set redemption status", err)
		}
		out.Status = StatusPaid
		changed = true
		return nil
	})
	if err != nil {
		return RedemptionRequest{}, wrapStore("mark paid", err)
	}

	if changed {
		l.observer.Transition(StatusPaid, 1)
		l.appendAudit(ctx, out)
	}
	return out, nil
}

// ExpireOlderThan moves every pending request created before cutoff to expired.
func (l *Lifecycle) ExpireOlderThan(ctx context.Context, cutoff time.Time) (n int, err error) {
	defer func() { l.observer.Operation(OpExpire, err) }()

	err = l.store.WithTx(ctx, func(s Store) error {
		var err error
		n, err = s.ExpirePending(ctx, cutoff.UTC())
		return err
	})
	if err != nil {
		return 0, wrapStore("expire redemptions", err)
	}

	if n > 0 {
		l.observer.Transition(StatusExpired, n)
		l.log.WithField("expired", n).
			WithField("cutoff", cutoff.UTC().Format(TimestampLayout)).
			Info("expired stale redemptions")
	}
	return n, nil
}

// ExpireStale expires requests older than the configured window and
// returns the cutoff it used.
func (l *Lifecycle) ExpireStale(ctx context.Context) (time.Time, int, error) {
	// the stored timestamps have second precision
	cutoff := l.clock().Add(-l.cfg.ExpiryWindow).Truncate(time.Second)
	n, err := l.ExpireOlderThan(ctx, cutoff)
	return cutoff, n, err
}
