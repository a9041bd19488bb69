package notify

import (
	"context"
	"errors"

	"github.com/warp/stake-ledger/ledger"
)

// Fanout delivers every event to all targets, even when one fails.
type Fanout []ledger.Notifier

func (f Fanout) Notify(ctx context.Context, ev ledger.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
