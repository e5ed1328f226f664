package storage

import (
	"strings"
	"time"

	"strategy-ledger/internal/domain"
	"strategy-ledger/internal/idhash"
)

// Entity types. Every item carries one; entity types share index key prefixes.
const (
	EntityTrade            = "TRADE"
	EntityStrategyTrade    = "STRATEGY_TRADE"
	EntitySignal           = "SIGNAL"
	EntityLot              = "LOT"
	EntityStrategyMetadata = "STRATEGY_METADATA"
)

// Secondary indexes of the ledger table.
const (
	IndexCorrelation = iota // (correlation_id, time#id)
	IndexSymbol             // (symbol, time#id)
	IndexStrategy           // (strategy_name, time#id)
	IndexLifecycle          // (lifecycle_state, created#id)
	IndexLots               // (strategy_name, OPEN|CLOSED#symbol#time#lot_id)
	IndexCount
)

// Lot index sort key prefixes.
const (
	LotOpenPrefix   = "OPEN#"
	LotClosedPrefix = "CLOSED#"
)

// metadataIndexPK groups all metadata rows under one strategy index partition.
const metadataIndexPK = "STRATEGY_METADATA"

// IndexKey is one secondary index entry. Empty PK means the item is not indexed.
type IndexKey struct {
	PK string
	SK string
}

// ItemKeys is the full key set of one ledger item.
type ItemKeys struct {
	PK         string
	SK         string
	EntityType string
	Index      [IndexCount]IndexKey
}

// TimeKey formats t as a fixed-width UTC string so lexical order is time order.
func TimeKey(t time.Time) string {
	return t.UTC().Format(idhash.TimestampLayout)
}

func sortKey(parts ...string) string {
	return strings.Join(parts, "#")
}

// TradePK is the partition key shared by a trade and its strategy links.
func TradePK(orderID string) string { return "TRADE#" + orderID }

// SignalPK is the partition key of a signal.
func SignalPK(signalID string) string { return "SIGNAL#" + signalID }

// LotPK is the partition key of a lot.
func LotPK(lotID string) string { return "LOT#" + lotID }

// MetadataPK is the partition key of strategy metadata.
func MetadataPK(strategyName string) string { return "STRATEGY#" + strategyName }

// Sort keys of singleton items.
const (
	TradeSK    = "TRADE"
	SignalSK   = "SIGNAL"
	LotSK      = "LOT"
	MetadataSK = "METADATA"
)

// StrategyTradeSK is the sort key of a strategy link inside its trade partition.
func StrategyTradeSK(strategyName string) string { return "STRATEGY#" + strategyName }

// TradeKeys returns the keys of a primary trade item.
func TradeKeys(t *domain.TradeRecord) ItemKeys {
	k := ItemKeys{PK: TradePK(t.OrderID), SK: TradeSK, EntityType: EntityTrade}
	tk := sortKey(TimeKey(t.FillTimestamp), t.OrderID)
	k.Index[IndexCorrelation] = IndexKey{PK: t.CorrelationID, SK: tk}
	k.Index[IndexSymbol] = IndexKey{PK: t.Symbol, SK: tk}
	return k
}

// StrategyTradeKeys returns the keys of a strategy link item.
func StrategyTradeKeys(l *domain.StrategyTradeLink) ItemKeys {
	k := ItemKeys{PK: TradePK(l.OrderID), SK: StrategyTradeSK(l.StrategyName), EntityType: EntityStrategyTrade}
	k.Index[IndexStrategy] = IndexKey{PK: l.StrategyName, SK: sortKey(TimeKey(l.FillTimestamp), l.OrderID)}
	return k
}

// SignalKeys returns the keys of a signal item.
func SignalKeys(s *domain.SignalRecord) ItemKeys {
	k := ItemKeys{PK: SignalPK(s.SignalID), SK: SignalSK, EntityType: EntitySignal}
	tk := sortKey(TimeKey(s.CreatedAt), s.SignalID)
	k.Index[IndexCorrelation] = IndexKey{PK: s.CorrelationID, SK: tk}
	k.Index[IndexStrategy] = IndexKey{PK: s.StrategyName, SK: tk}
	k.Index[IndexLifecycle] = LifecycleIndexKey(s.LifecycleState, s.CreatedAt, s.SignalID)
	return k
}

// LifecycleIndexKey is recomputed on every lifecycle transition.
func LifecycleIndexKey(state domain.LifecycleState, createdAt time.Time, signalID string) IndexKey {
	return IndexKey{PK: string(state), SK: sortKey(TimeKey(createdAt), signalID)}
}

// LotKeys returns the keys of a lot item. Open lots sort by entry time,
// closed lots by close time.
func LotKeys(l *domain.StrategyLot) ItemKeys {
	k := ItemKeys{PK: LotPK(l.LotID), SK: LotSK, EntityType: EntityLot}
	k.Index[IndexLots] = LotIndexKey(l)
	return k
}

// LotIndexKey returns the lot FIFO index entry.
func LotIndexKey(l *domain.StrategyLot) IndexKey {
	if closedAt, ok := l.ClosedAt(); ok {
		return IndexKey{PK: l.StrategyName, SK: LotClosedPrefix + sortKey(l.Symbol, TimeKey(closedAt), l.LotID)}
	}
	return IndexKey{PK: l.StrategyName, SK: OpenLotPrefix(l.Symbol) + sortKey(TimeKey(l.EntryTimestamp), l.LotID)}
}

// OpenLotPrefix is the lot index prefix of a strategy's open lots in one symbol.
func OpenLotPrefix(symbol string) string {
	return LotOpenPrefix + symbol + "#"
}

// MetadataKeys returns the keys of a strategy metadata item.
func MetadataKeys(m *domain.StrategyMetadata) ItemKeys {
	k := ItemKeys{PK: MetadataPK(m.StrategyName), SK: MetadataSK, EntityType: EntityStrategyMetadata}
	k.Index[IndexStrategy] = IndexKey{PK: metadataIndexPK, SK: m.StrategyName}
	return k
}

// MetadataIndexPK is the strategy index partition holding all metadata rows.
func MetadataIndexPK() string { return metadataIndexPK }
