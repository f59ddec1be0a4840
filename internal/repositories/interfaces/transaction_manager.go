package interfaces

import "context"

// TransactionManager runs fn inside one multi-document transaction. Every
// read fn performs through the repositories sees a single consistent snapshot
// and every write commits atomically or not at all. fn may be re-invoked from
// scratch on a write conflict, so it must be side-effect-free outside the
// store: anything aimed at the outside world is collected as an intent and
// dispatched after WithTransaction returns.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
