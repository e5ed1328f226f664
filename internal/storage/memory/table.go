package memory

import (
	"sort"
	"strings"

	"strategy-ledger/internal/storage"
)

// item is one row of the in-memory ledger table.
type item struct {
	keys    storage.ItemKeys
	version int64
	value   any // owned copy of the domain record
}

func primaryKey(pk, sk string) string {
	return pk + "\x00" + sk
}

// table is a partitioned item table with secondary indexes.
// Callers hold the owning store's lock.
type table struct {
	items   map[string]*item
	indexes [storage.IndexCount]map[string]map[string]*item // index -> pk -> primary key -> item
}

func newTable() *table {
	t := &table{items: make(map[string]*item)}
	for i := range t.indexes {
		t.indexes[i] = make(map[string]map[string]*item)
	}
	return t
}

func (t *table) get(pk, sk string) (*item, bool) {
	it, ok := t.items[primaryKey(pk, sk)]
	return it, ok
}

func (t *table) exists(pk, sk string) bool {
	_, ok := t.items[primaryKey(pk, sk)]
	return ok
}

// put inserts or replaces an item and refreshes its index entries.
func (t *table) put(it *item) {
	key := primaryKey(it.keys.PK, it.keys.SK)
	if old, ok := t.items[key]; ok {
		t.unindex(key, old)
	}
	t.items[key] = it
	for i, ik := range it.keys.Index {
		if ik.PK == "" {
			continue
		}
		part, ok := t.indexes[i][ik.PK]
		if !ok {
			part = make(map[string]*item)
			t.indexes[i][ik.PK] = part
		}
		part[key] = it
	}
}

func (t *table) delete(pk, sk string) bool {
	key := primaryKey(pk, sk)
	old, ok := t.items[key]
	if !ok {
		return false
	}
	t.unindex(key, old)
	delete(t.items, key)
	return true
}

func (t *table) unindex(key string, it *item) {
	for i, ik := range it.keys.Index {
		if ik.PK == "" {
			continue
		}
		part := t.indexes[i][ik.PK]
		delete(part, key)
		if len(part) == 0 {
			delete(t.indexes[i], ik.PK)
		}
	}
}

// query returns items of entityType in one index partition whose sort key has
// the given prefix, ordered by sort key.
func (t *table) query(index int, pk, skPrefix, entityType string, desc bool) []*item {
	part := t.indexes[index][pk]
	out := make([]*item, 0, len(part))
	for _, it := range part {
		if it.keys.EntityType != entityType {
			continue
		}
		if !strings.HasPrefix(it.keys.Index[index].SK, skPrefix) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].keys.Index[index].SK, out[j].keys.Index[index].SK
		if desc {
			return a > b
		}
		return a < b
	})
	return out
}

// scan walks items of entityType in primary key order, starting after cursor.
// Returns at most limit items and the cursor for the next page ("" when done).
func (t *table) scan(entityType, cursor string, limit int) ([]*item, string) {
	keys := make([]string, 0, len(t.items))
	for k, it := range t.items {
		if it.keys.EntityType == entityType && k > cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit <= 0 || limit >= len(keys) {
		out := make([]*item, len(keys))
		for i, k := range keys {
			out[i] = t.items[k]
		}
		return out, ""
	}

	out := make([]*item, limit)
	for i, k := range keys[:limit] {
		out[i] = t.items[k]
	}
	return out, keys[limit-1]
}
