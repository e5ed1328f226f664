package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// TimestampLayout is the fixed-width UTC layout used inside hashes and index keys.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// ComputeLedgerID computes the ledger id of a fill.
// Formula: SHA256(order_id|fill_timestamp)
// Returns base58-encoded hash.
func ComputeLedgerID(orderID string, fillTimestamp time.Time) string {
	data := fmt.Sprintf("%s|%s",
		orderID,
		fillTimestamp.UTC().Format(TimestampLayout),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeLotID computes a deterministic lot_id.
// Formula: SHA256(strategy_name|symbol|entry_trade_id)
// Returns hex-encoded hash (64 characters).
func ComputeLotID(strategyName, symbol, entryTradeID string) string {
	data := fmt.Sprintf("%s|%s|%s",
		strategyName,
		symbol,
		entryTradeID,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeSignalHash computes the content hash used to deduplicate replayed signals.
// Formula: SHA256(strategy_name|symbol|action|target_allocation|correlation_id)
func ComputeSignalHash(strategyName, symbol, action, targetAllocation, correlationID string) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		strategyName,
		symbol,
		action,
		targetAllocation,
		correlationID,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeRebalancePlanHash hashes plan items independent of their order.
// Each item is "symbol:action:target"; items are sorted before joining.
func ComputeRebalancePlanHash(strategyName string, items []string) string {
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)

	data := strategyName + "|" + strings.Join(sorted, ",")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
