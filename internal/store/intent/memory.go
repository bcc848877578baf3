package intent

import (
	"context"
	"fmt"
	"sync"

	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/domainerr"
)

// MemoryStore is an in-process Store for tests and the simulate CLI
// command.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]domain.TransferIntent
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]domain.TransferIntent)}
}

// InsertPlanned implements Store.
func (m *MemoryStore) InsertPlanned(_ context.Context, in domain.TransferIntent) (domain.TransferIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.data[in.IdemKey]; ok {
		return existing, false, domainerr.IdempotencyConflict(nil)
	}

	in.Status = domain.Planned
	m.data[in.IdemKey] = in
	return in, true, nil
}

// UpdateStatus implements Store.
func (m *MemoryStore) UpdateStatus(_ context.Context, idemKey string, next domain.IntentStatus, txHash, proposalHash, failureNote string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.data[idemKey]
	if !ok {
		return fmt.Errorf("intent: %s not found", idemKey)
	}
	if !in.Status.CanTransitionTo(next) {
		return fmt.Errorf("intent: illegal transition %s -> %s for %s", in.Status, next, idemKey)
	}

	in.Status = next
	if txHash != "" {
		in.TxHash = txHash
	}
	if proposalHash != "" {
		in.ProposalHash = proposalHash
	}
	if failureNote != "" {
		in.FailureNote = failureNote
	}
	m.data[idemKey] = in
	return nil
}

// FindByIdemKey implements Store.
func (m *MemoryStore) FindByIdemKey(_ context.Context, idemKey string) (domain.TransferIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.data[idemKey]
	return in, ok, nil
}

// FindInFlightForRule implements Store.
func (m *MemoryStore) FindInFlightForRule(_ context.Context, ruleID string) ([]domain.TransferIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.TransferIntent
	for _, in := range m.data {
		if in.RuleID == ruleID && !in.Status.IsTerminal() {
			out = append(out, in)
		}
	}
	return out, nil
}

// FindLastFiredAt implements Store.
func (m *MemoryStore) FindLastFiredAt(_ context.Context, ruleID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		best  int64
		found bool
	)
	for _, in := range m.data {
		if in.RuleID != ruleID {
			continue
		}
		if !found || in.FiredAt > best {
			best = in.FiredAt
			found = true
		}
	}
	return best, found, nil
}

var _ Store = (*MemoryStore)(nil)
