package relay

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"

	"tsignals-relay/internal/logging"
)

// retrying wraps a Platform and retries failed calls with exponential
// backoff. ErrMessageNotFound, ErrUnsupported and context errors are final.
type retrying struct {
	next     Platform
	attempts uint
	initial  time.Duration
}

// WithRetry returns p with bounded retries. attempts counts the first call;
// values below 2 return p unchanged.
func WithRetry(p Platform, attempts int, initial time.Duration) Platform {
	if attempts < 2 {
		return p
	}
	return &retrying{next: p, attempts: uint(attempts), initial: initial}
}

func retry[T any](ctx context.Context, r *retrying, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = 30 * time.Second
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if permanent(err) {
			return v, backoff.Permanent(err)
		}
		logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("outbound call failed, retrying")
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.attempts))
}

func permanent(err error) bool {
	return errors.Is(err, ErrMessageNotFound) ||
		errors.Is(err, ErrUnsupported) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *retrying) Copy(ctx context.Context, dest int64, msg ContentMessage) error {
	_, err := retry(ctx, r, "copy", func() (struct{}, error) {
		return struct{}{}, r.next.Copy(ctx, dest, msg)
	})
	return err
}

func (r *retrying) Send(ctx context.Context, dest int64, out Outgoing) (int, error) {
	if out.Key == 0 {
		out.Key = newKey()
	}
	return retry(ctx, r, "send", func() (int, error) {
		return r.next.Send(ctx, dest, out)
	})
}

func (r *retrying) Edit(ctx context.Context, dest int64, id int, out Outgoing) error {
	_, err := retry(ctx, r, "edit", func() (struct{}, error) {
		return struct{}{}, r.next.Edit(ctx, dest, id, out)
	})
	return err
}

func (r *retrying) Pin(ctx context.Context, dest int64, id int) error {
	_, err := retry(ctx, r, "pin", func() (struct{}, error) {
		return struct{}{}, r.next.Pin(ctx, dest, id)
	})
	return err
}

func (r *retrying) Message(ctx context.Context, dest int64, id int) (ContentMessage, error) {
	return retry(ctx, r, "message", func() (ContentMessage, error) {
		return r.next.Message(ctx, dest, id)
	})
}

func (r *retrying) Recent(ctx context.Context, dest int64, limit int) ([]ContentMessage, error) {
	return retry(ctx, r, "recent", func() ([]ContentMessage, error) {
		return r.next.Recent(ctx, dest, limit)
	})
}

// newKey returns a non-zero send key.
func newKey() int64 {
	for {
		if k := rand.Int64(); k != 0 {
			return k
		}
	}
}
