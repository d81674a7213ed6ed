package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"tickethub/internal/kv"
	"tickethub/internal/status"
	"tickethub/internal/store"
	"tickethub/models"
	"tickethub/monitoring"
)

// CapacityService is the capacity ledger: authoritative available/total
// counters per event plus an append-only log of deltas. Every mutation
// happens inside the per-event distributed lock with the capacity re-checked
// after acquisition.
type CapacityService struct {
	store   store.Store
	lock    *kv.EventLock
	monitor *monitoring.Monitor
}

func NewCapacityService(st store.Store, lock *kv.EventLock, monitor *monitoring.Monitor) *CapacityService {
	return &CapacityService{
		store:   st,
		lock:    lock,
		monitor: monitor,
	}
}

// Check reports whether qty seats are available without taking the lock.
// Advisory only; Reserve re-checks under the lock.
func (s *CapacityService) Check(ctx context.Context, eventID string, qty int) (bool, string, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return false, "", err
	}
	if event.CapacityAvailable < qty {
		return false, fmt.Sprintf("only %d of %d seats available", event.CapacityAvailable, qty), nil
	}
	return true, "", nil
}

// Reserve decrements available capacity by qty and appends a ledger entry.
// Returns status.ErrCapacityExhausted when fewer than qty seats remain and
// status.ErrLockTimeout when the lock could not be acquired in time.
func (s *CapacityService) Reserve(ctx context.Context, eventID string, qty int, reason string) error {
	if qty <= 0 {
		return fmt.Errorf("capacity: reserve quantity must be positive, got %d", qty)
	}

	lease, err := s.acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if event.CapacityAvailable < qty {
		return status.ErrCapacityExhausted
	}

	newAvailable := event.CapacityAvailable - qty
	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.SetEventAvailable(ctx, eventID, newAvailable); err != nil {
			return err
		}
		return tx.AppendCapacityLog(ctx, eventID, -qty, reason)
	})
	if err != nil {
		return err
	}

	s.monitor.SetCapacityAvailable(eventID, newAvailable)
	return nil
}

// Release returns qty seats to the pool. The new available amount is capped
// at capacity_total, so a double release can never inflate capacity past the
// event's size; callers still must track reservation identity.
func (s *CapacityService) Release(ctx context.Context, eventID string, qty int, reason string) error {
	if qty <= 0 {
		return fmt.Errorf("capacity: release quantity must be positive, got %d", qty)
	}

	lease, err := s.acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	newAvailable := event.CapacityAvailable + qty
	if newAvailable > event.CapacityTotal {
		newAvailable = event.CapacityTotal
	}
	delta := newAvailable - event.CapacityAvailable
	if delta == 0 {
		log.Printf("capacity: release of %d for event %s capped to zero (already at total)", qty, eventID)
		return nil
	}

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.SetEventAvailable(ctx, eventID, newAvailable); err != nil {
			return err
		}
		return tx.AppendCapacityLog(ctx, eventID, delta, reason)
	})
	if err != nil {
		return err
	}

	s.monitor.SetCapacityAvailable(eventID, newAvailable)
	return nil
}

// ReconcileIssued recomputes available capacity from the authoritative count
// of capacity-consuming tickets, correcting drift from earlier partial
// failures. Called after every issuance.
func (s *CapacityService) ReconcileIssued(ctx context.Context, eventID string) error {
	lease, err := s.acquire(ctx, eventID)
	if err != nil {
		return err
	}
	defer lease.Release(ctx)

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	issued, err := s.store.CountCapacityTickets(ctx, eventID)
	if err != nil {
		return err
	}

	target := event.CapacityTotal - issued
	if target < 0 {
		target = 0
	}
	if target == event.CapacityAvailable {
		return nil
	}

	delta := target - event.CapacityAvailable
	log.Printf("capacity: reconciling event %s available %d -> %d (%d issued)",
		eventID, event.CapacityAvailable, target, issued)

	err = s.store.RunInTransaction(ctx, func(tx store.Store) error {
		if err := tx.SetEventAvailable(ctx, eventID, target); err != nil {
			return err
		}
		return tx.AppendCapacityLog(ctx, eventID, delta, models.CapacityReasonReconciled)
	})
	if err != nil {
		return err
	}

	s.monitor.SetCapacityAvailable(eventID, target)
	return nil
}

func (s *CapacityService) acquire(ctx context.Context, eventID string) (*kv.Lease, error) {
	started := time.Now()
	lease, err := s.lock.Acquire(ctx, eventID)
	s.monitor.TrackLockWait(eventID, time.Since(started))
	if err != nil {
		return nil, err
	}
	return lease, nil
}
