package cart

import "context"

// Ticket resolves once the reconciliation of one mutation has settled.
type Ticket struct {
	MerchandiseID string
	Version       uint64

	done chan struct{}
	err  error
}

func newTicket(merchandiseID string, version uint64) *Ticket {
	return &Ticket{MerchandiseID: merchandiseID, Version: version, done: make(chan struct{})}
}

func (t *Ticket) resolve(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the mutation has been confirmed or rolled back.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Err returns the reconciliation error; nil while pending or on success.
func (t *Ticket) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the ticket settles or ctx is done.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
