package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	txAttempts = 5
	txTimeout  = 10 * time.Second
)

// TxFunc may be retried on contention and must only write through tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// RunTransaction runs fn in a transaction bounded by ten seconds. An error fn
// returns that did not come from Firestore, such as a typed repository error,
// aborts the transaction and is returned as is.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, txTimeout)
		defer cancel()
	}

	var aborted error
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		aborted = nil
		err := fn(ctx, tx)
		if err != nil && !fromBackend(err) {
			aborted = err
		}
		return err
	}, firestore.MaxAttempts(txAttempts))
	if aborted != nil {
		return aborted
	}
	return WrapError("transaction", err)
}

func fromBackend(err error) bool {
	if _, ok := status.FromError(err); ok {
		return true
	}
	_, ok := err.(*Error)
	return ok
}
