package cart

import (
	"context"
	"time"

	"github.com/angelmondragon/storefront-cart/internal/commerce"
	"github.com/angelmondragon/storefront-cart/internal/resilience"
	"github.com/angelmondragon/storefront-cart/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
)

type mutation struct {
	kind          enums.MutationKind
	merchandiseID string
	// quantity is the delta for adds and the target quantity otherwise.
	quantity int
	version  uint64
	lineHint string
	prev     chan struct{}
	done     chan struct{}
	ticket   *Ticket
}

// issueLocked stamps a new version on the line and queues behind the
// previous mutation for the same merchandise id. Caller holds s.mu.
func (s *session) issueLocked(kind enums.MutationKind, merchandiseID string, quantity int, lineHint string) *mutation {
	st := s.lineLocked(merchandiseID)
	st.version++
	st.state = enums.LineStateOptimisticApplied
	st.err = nil

	mut := &mutation{
		kind:          kind,
		merchandiseID: merchandiseID,
		quantity:      quantity,
		version:       st.version,
		lineHint:      lineHint,
		prev:          st.tail,
		done:          make(chan struct{}),
		ticket:        newTicket(merchandiseID, st.version),
	}
	st.tail = mut.done
	return mut
}

// dispatch publishes the optimistic view and starts reconciliation detached
// from the caller's cancellation.
func (s *session) dispatch(ctx context.Context, mut *mutation, snapshot *commerce.Cart) *Ticket {
	s.notify(ctx, snapshot)
	go s.reconcile(context.WithoutCancel(ctx), mut)
	return mut.ticket
}

func (s *session) reconcile(ctx context.Context, mut *mutation) {
	defer close(mut.done)
	if mut.prev != nil {
		<-mut.prev
	}

	s.slots <- struct{}{}
	s.metrics.TaskStarted()
	defer func() {
		s.metrics.TaskFinished()
		<-s.slots
	}()

	ctx = s.logg.WithMutation(ctx, mut.merchandiseID, mut.kind.String(), mut.version)
	s.markReconciling(mut)

	start := time.Now()
	remote, err := s.push(ctx, mut)
	s.metrics.ObserveDuration(mut.kind.String(), time.Since(start))

	var snapshot *commerce.Cart
	if err != nil {
		snapshot = s.rollback(ctx, mut, err)
	} else {
		snapshot = s.confirm(ctx, mut, remote)
	}
	mut.ticket.resolve(err)
	s.notify(ctx, snapshot)
}

func (s *session) markReconciling(mut *mutation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.lines[mut.merchandiseID]; st != nil && st.version == mut.version {
		st.state = enums.LineStateReconciling
	}
}

// push sends the mutation to the backend. A nil cart with a nil error means
// the backend holds no line for the merchandise id.
func (s *session) push(ctx context.Context, mut *mutation) (*commerce.Cart, error) {
	switch mut.kind {
	case enums.MutationKindAdd:
		return s.pushAdd(ctx, mut.merchandiseID, mut.quantity)
	case enums.MutationKindUpdate:
		if mut.quantity <= 0 {
			return s.pushRemove(ctx, mut)
		}
		lineID, cartID, err := s.resolveLine(ctx, mut)
		if err != nil {
			return nil, err
		}
		if lineID == "" {
			// the backend never got the line; converge on the target quantity
			return s.pushAdd(ctx, mut.merchandiseID, mut.quantity)
		}
		input := []commerce.LineInput{{LineID: lineID, MerchandiseID: mut.merchandiseID, Quantity: mut.quantity}}
		return resilience.Execute(ctx, s.exec, "update_lines", func(ctx context.Context) (*commerce.Cart, error) {
			return s.platform.UpdateLines(ctx, cartID, input)
		})
	default:
		return s.pushRemove(ctx, mut)
	}
}

func (s *session) pushAdd(ctx context.Context, merchandiseID string, quantity int) (*commerce.Cart, error) {
	cartID, err := s.ensureCart(ctx)
	if err != nil {
		return nil, err
	}
	input := []commerce.LineInput{{MerchandiseID: merchandiseID, Quantity: quantity}}
	return resilience.Execute(ctx, s.exec, "add_lines", func(ctx context.Context) (*commerce.Cart, error) {
		return s.platform.AddLines(ctx, cartID, input)
	})
}

func (s *session) pushRemove(ctx context.Context, mut *mutation) (*commerce.Cart, error) {
	lineID, cartID, err := s.resolveLine(ctx, mut)
	if err != nil {
		return nil, err
	}
	if lineID == "" {
		return nil, nil
	}
	remote, err := resilience.Execute(ctx, s.exec, "remove_lines", func(ctx context.Context) (*commerce.Cart, error) {
		return s.platform.RemoveLines(ctx, cartID, []string{lineID})
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, nil
	}
	return remote, err
}

// resolveLine finds the backend line id at run time: the id learned from an
// earlier confirmation, then the id known when the mutation was issued, then
// a lookup of the backend cart by merchandise id.
func (s *session) resolveLine(ctx context.Context, mut *mutation) (lineID, cartID string, err error) {
	s.mu.Lock()
	if st := s.lines[mut.merchandiseID]; st != nil {
		lineID = st.lineID
	}
	if lineID == "" {
		lineID = mut.lineHint
	}
	cartID = s.cart.ID
	s.mu.Unlock()

	if lineID != "" || cartID == "" {
		return lineID, cartID, nil
	}
	remote, err := resilience.Execute(ctx, s.exec, "get_cart", func(ctx context.Context) (*commerce.Cart, error) {
		return s.platform.GetCart(ctx, cartID)
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return "", cartID, nil
	}
	if err != nil {
		return "", "", err
	}
	if line, ok := remote.Line(mut.merchandiseID); ok {
		return line.ID, cartID, nil
	}
	return "", cartID, nil
}

// ensureCart returns the backend cart id, creating the cart once when the
// session has none yet.
func (s *session) ensureCart(ctx context.Context) (string, error) {
	if id := s.ID(); id != "" {
		return id, nil
	}
	v, err, _ := s.group.Do("create_cart", func() (any, error) {
		if id := s.ID(); id != "" {
			return id, nil
		}
		created, err := resilience.Execute(ctx, s.exec, "create_cart", s.platform.CreateCart)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		if s.cart.ID == "" {
			s.cart.ID = created.ID
		}
		id := s.cart.ID
		s.mu.Unlock()
		s.logg.Info(s.logg.WithCartID(ctx, id), "cart created")
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// confirm applies the authoritative line. A confirmation older than the
// newest optimistic edit only updates the line id and price.
func (s *session) confirm(ctx context.Context, mut *mutation, remote *commerce.Cart) *commerce.Cart {
	s.mu.Lock()
	st := s.lineLocked(mut.merchandiseID)
	if remote != nil && remote.ID != "" && s.cart.ID == "" {
		s.cart.ID = remote.ID
	}

	var authoritative *commerce.CartLine
	if remote != nil {
		if line, ok := remote.Line(mut.merchandiseID); ok {
			authoritative = &line
		}
	}
	st.confirmed = authoritative
	st.err = nil
	st.lineID = ""
	if authoritative != nil {
		st.lineID = authoritative.ID
	}

	latest := mut.version == st.version
	if latest {
		if authoritative != nil {
			s.cart.ReplaceLine(*authoritative)
		} else if idx := s.cart.IndexByMerchandise(mut.merchandiseID); idx >= 0 {
			s.cart.RemoveAt(idx)
		}
		st.state = enums.LineStateConfirmed
	} else if authoritative != nil {
		if idx := s.cart.IndexByMerchandise(mut.merchandiseID); idx >= 0 {
			s.cart.Lines[idx].ID = authoritative.ID
			s.cart.Lines[idx].UnitPrice = authoritative.UnitPrice
			s.cart.Lines[idx].Reprice()
			s.cart.Recompute()
		}
	}
	if st.tail == mut.done {
		st.tail = nil
	}
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	outcome := "confirmed"
	if !latest {
		outcome = "superseded"
	}
	s.metrics.IncOutcome(mut.kind.String(), outcome)
	s.logg.Info(s.logg.WithField(ctx, "outcome", outcome), "line reconciled")
	return snapshot
}

// rollback records a terminal failure on the line. Under the revert policy
// the last confirmed line is restored, unless a newer edit is pending.
func (s *session) rollback(ctx context.Context, mut *mutation, cause error) *commerce.Cart {
	s.mu.Lock()
	st := s.lineLocked(mut.merchandiseID)
	st.err = cause

	latest := mut.version == st.version
	if latest {
		st.state = enums.LineStateRolledBack
		if s.policy == enums.FailurePolicyRevert {
			if st.confirmed != nil {
				s.cart.ReplaceLine(*st.confirmed)
			} else if idx := s.cart.IndexByMerchandise(mut.merchandiseID); idx >= 0 {
				s.cart.RemoveAt(idx)
			}
		}
	}
	if st.tail == mut.done {
		st.tail = nil
	}
	snapshot := s.cart.Clone()
	s.mu.Unlock()

	s.metrics.IncOutcome(mut.kind.String(), "rolled_back")
	s.logg.Error(s.logg.WithField(ctx, "policy", s.policy.String()), "line reconciliation failed", cause)
	return snapshot
}
