package memory

import (
	"context"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutSignal adds a new signal. Returns ErrDuplicateKey if signal_id exists.
func (s *LedgerStore) PutSignal(_ context.Context, sig *domain.SignalRecord) error {
	if sig == nil || sig.SignalID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.exists(storage.SignalPK(sig.SignalID), storage.SignalSK) {
		return storage.ErrDuplicateKey
	}

	c := sig.Clone()
	s.table.put(&item{keys: storage.SignalKeys(c), value: c})
	return nil
}

// GetSignal retrieves a signal by id.
func (s *LedgerStore) GetSignal(_ context.Context, signalID string) (*domain.SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.table.get(storage.SignalPK(signalID), storage.SignalSK)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return it.value.(*domain.SignalRecord).Clone(), nil
}

// UpdateSignalLifecycle applies a conditional state change with an atomic append.
func (s *LedgerStore) UpdateSignalLifecycle(_ context.Context, u storage.SignalLifecycleUpdate) (*domain.SignalRecord, error) {
	if u.SignalID == "" || !u.NewState.Valid() {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.table.get(storage.SignalPK(u.SignalID), storage.SignalSK)
	if !ok {
		return nil, storage.ErrNotFound
	}
	cur := it.value.(*domain.SignalRecord)
	if !stateIn(cur.LifecycleState, u.ExpectedStates) {
		return nil, storage.ErrConditionFailed
	}

	next := cur.Clone()
	next.LifecycleState = u.NewState
	for _, id := range u.AppendTradeIDs {
		if !next.HasTrade(id) {
			next.ExecutedTradeIDs = append(next.ExecutedTradeIDs, id)
		}
	}

	keys := it.keys
	keys.Index[storage.IndexLifecycle] = storage.LifecycleIndexKey(u.NewState, u.CreatedAt, u.SignalID)
	s.table.put(&item{keys: keys, version: it.version + 1, value: next})
	return next.Clone(), nil
}

func stateIn(state domain.LifecycleState, states []domain.LifecycleState) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}

// QuerySignalsByCorrelation returns signals for a workflow, most recent first.
func (s *LedgerStore) QuerySignalsByCorrelation(_ context.Context, correlationID string, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(storage.IndexCorrelation, correlationID, opts), nil
}

// QuerySignalsByStrategy returns signals emitted by a strategy, most recent first.
func (s *LedgerStore) QuerySignalsByStrategy(_ context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(storage.IndexStrategy, strategyName, opts), nil
}

// QuerySignalsByLifecycleState returns signals in a state, most recent first.
func (s *LedgerStore) QuerySignalsByLifecycleState(_ context.Context, state domain.LifecycleState, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(storage.IndexLifecycle, string(state), opts), nil
}

func (s *LedgerStore) querySignals(index int, pk string, opts storage.QueryOptions) []*domain.SignalRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := storage.ApplyLimit(s.table.query(index, pk, "", storage.EntitySignal, true), opts.Limit)
	out := make([]*domain.SignalRecord, len(items))
	for i, it := range items {
		out[i] = it.value.(*domain.SignalRecord).Clone()
	}
	return out
}
