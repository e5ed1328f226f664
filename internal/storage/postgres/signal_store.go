package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/storage"
)

// PutSignal adds a new signal. Returns ErrDuplicateKey if signal_id exists.
func (s *LedgerStore) PutSignal(ctx context.Context, sig *domain.SignalRecord) error {
	if sig == nil || sig.SignalID == "" {
		return storage.ErrInvalidInput
	}
	return insertItem(ctx, s.pool, storage.SignalKeys(sig), 0, sig)
}

// GetSignal retrieves a signal by id. Returns ErrNotFound if not exists.
func (s *LedgerStore) GetSignal(ctx context.Context, signalID string) (*domain.SignalRecord, error) {
	return getItem[domain.SignalRecord](ctx, s.pool, storage.SignalPK(signalID), storage.SignalSK)
}

// updateLifecycleSQL sets the state and appends trade ids not already present
// in one statement. Under concurrent updates Postgres re-evaluates the SET
// expressions against the latest row, so no append is lost.
const updateLifecycleSQL = `
	UPDATE ledger_items
	SET payload = jsonb_set(
			jsonb_set(payload, '{lifecycle_state}', to_jsonb($3::text)),
			'{executed_trade_ids}',
			(CASE WHEN jsonb_typeof(payload->'executed_trade_ids') = 'array'
				THEN payload->'executed_trade_ids'
				ELSE '[]'::jsonb END)
			|| COALESCE((
				SELECT jsonb_agg(e.value ORDER BY e.ord)
				FROM jsonb_array_elements_text($4::jsonb) WITH ORDINALITY AS e(value, ord)
				WHERE NOT COALESCE(payload->'executed_trade_ids' ? e.value, false)
			), '[]'::jsonb)
		),
		lifecycle_pk = $3,
		lifecycle_sk = $5,
		version = version + 1
	WHERE pk = $1 AND sk = $6 AND lifecycle_pk = ANY($2::text[])
	RETURNING payload
`

// UpdateSignalLifecycle applies a conditional state change with an atomic append.
func (s *LedgerStore) UpdateSignalLifecycle(ctx context.Context, u storage.SignalLifecycleUpdate) (*domain.SignalRecord, error) {
	if u.SignalID == "" || !u.NewState.Valid() {
		return nil, storage.ErrInvalidInput
	}

	expected := make([]string, len(u.ExpectedStates))
	for i, st := range u.ExpectedStates {
		expected[i] = string(st)
	}

	appendIDs := dedupe(u.AppendTradeIDs)
	appendJSON, err := json.Marshal(appendIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal trade ids: %w", err)
	}

	idx := storage.LifecycleIndexKey(u.NewState, u.CreatedAt, u.SignalID)

	var data []byte
	err = s.pool.QueryRow(ctx, updateLifecycleSQL,
		storage.SignalPK(u.SignalID), expected, string(u.NewState), appendJSON, idx.SK, storage.SignalSK,
	).Scan(&data)
	if err == nil {
		return decode[domain.SignalRecord](data)
	}
	if !isNotFoundError(err) {
		return nil, fmt.Errorf("update signal lifecycle: %w", err)
	}

	exists, err := itemExists(ctx, s.pool, storage.SignalPK(u.SignalID), storage.SignalSK)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	return nil, storage.ErrConditionFailed
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// QuerySignalsByCorrelation returns signals for a workflow, most recent first.
func (s *LedgerStore) QuerySignalsByCorrelation(ctx context.Context, correlationID string, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(ctx, storage.IndexCorrelation, correlationID, opts)
}

// QuerySignalsByStrategy returns signals emitted by a strategy, most recent first.
func (s *LedgerStore) QuerySignalsByStrategy(ctx context.Context, strategyName string, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(ctx, storage.IndexStrategy, strategyName, opts)
}

// QuerySignalsByLifecycleState returns signals in a state, most recent first.
func (s *LedgerStore) QuerySignalsByLifecycleState(ctx context.Context, state domain.LifecycleState, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return s.querySignals(ctx, storage.IndexLifecycle, string(state), opts)
}

func (s *LedgerStore) querySignals(ctx context.Context, index int, pk string, opts storage.QueryOptions) ([]*domain.SignalRecord, error) {
	return queryIndex[domain.SignalRecord](ctx, s.pool, indexQuery{
		index:      index,
		pk:         pk,
		entityType: storage.EntitySignal,
		desc:       true,
		limit:      opts.Limit,
	})
}
