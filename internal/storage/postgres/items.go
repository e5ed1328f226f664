package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"strategy-ledger/internal/storage"
)

// indexColumns maps a ledger index to its column prefix in ledger_items.
var indexColumns = [storage.IndexCount]string{
	storage.IndexCorrelation: "corr",
	storage.IndexSymbol:      "symbol",
	storage.IndexStrategy:    "strategy",
	storage.IndexLifecycle:   "lifecycle",
	storage.IndexLots:        "lots",
}

const insertItemSQL = `
	INSERT INTO ledger_items (
		pk, sk, entity_type,
		corr_pk, corr_sk, symbol_pk, symbol_sk,
		strategy_pk, strategy_sk, lifecycle_pk, lifecycle_sk,
		lots_pk, lots_sk,
		version, payload
	) VALUES (
		$1, $2, $3,
		$4, $5, $6, $7,
		$8, $9, $10, $11,
		$12, $13,
		$14, $15
	)
`

// itemArgs returns the insertItemSQL arguments for one item.
func itemArgs(keys storage.ItemKeys, version int64, payload []byte) []any {
	args := []any{keys.PK, keys.SK, keys.EntityType}
	for _, ik := range keys.Index {
		if ik.PK == "" {
			args = append(args, nil, nil)
			continue
		}
		args = append(args, ik.PK, ik.SK)
	}
	return append(args, version, payload)
}

// insertItem writes one item. Returns ErrDuplicateKey if (pk, sk) exists.
func insertItem(ctx context.Context, db execer, keys storage.ItemKeys, version int64, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", keys.EntityType, err)
	}
	if _, err := db.Exec(ctx, insertItemSQL, itemArgs(keys, version, payload)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert %s: %w", keys.EntityType, err)
	}
	return nil
}

// getItem loads and decodes the payload of one item. Returns ErrNotFound if not exists.
func getItem[T any](ctx context.Context, pool *Pool, pk, sk string) (*T, error) {
	var data []byte
	err := pool.QueryRow(ctx, `SELECT payload FROM ledger_items WHERE pk = $1 AND sk = $2`, pk, sk).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get item %s/%s: %w", pk, sk, err)
	}
	return decode[T](data)
}

// itemExists reports whether (pk, sk) exists.
func itemExists(ctx context.Context, pool *Pool, pk, sk string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_items WHERE pk = $1 AND sk = $2)`, pk, sk,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check item %s/%s: %w", pk, sk, err)
	}
	return exists, nil
}

// indexQuery describes a query over one secondary index partition.
type indexQuery struct {
	index      int
	pk         string
	skPrefix   string
	entityType string
	desc       bool
	limit      int
}

// queryIndex returns decoded payloads ordered by the index sort key.
func queryIndex[T any](ctx context.Context, pool *Pool, q indexQuery) ([]*T, error) {
	col := indexColumns[q.index]
	dir := "ASC"
	if q.desc {
		dir = "DESC"
	}
	query := fmt.Sprintf(`
		SELECT payload
		FROM ledger_items
		WHERE %[1]s_pk = $1 AND entity_type = $2 AND %[1]s_sk LIKE $3
		ORDER BY %[1]s_sk %[2]s
		LIMIT $4
	`, col, dir)

	rows, err := pool.Query(ctx, query, q.pk, q.entityType, prefixPattern(q.skPrefix), limitArg(q.limit))
	if err != nil {
		return nil, fmt.Errorf("query %s index: %w", col, err)
	}
	return decodeRows[T](rows)
}

func decodeRows[T any](rows pgx.Rows) ([]*T, error) {
	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan payloads: %w", err)
	}
	out := make([]*T, 0, len(payloads))
	for _, data := range payloads {
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decode[T any](data []byte) (*T, error) {
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}
