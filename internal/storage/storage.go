// Package storage provides the durable key/row store for trades, orders,
// events, watches, settings, and symbol configuration. It uses BoltDB,
// bucket-per-entity, with every multi-statement update running in one
// transaction, per the persisted-schema and shared-resource requirements.
package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"go.etcd.io/bbolt"
)

const (
	tradesBucket        = "trades"
	ordersBucket        = "orders"
	eventsBucket        = "events"
	watchesBucket       = "watches"
	settingsBucket      = "settings"
	symbolConfigsBucket = "symbol_configs"
)

var allBuckets = []string{tradesBucket, ordersBucket, eventsBucket, watchesBucket, settingsBucket, symbolConfigsBucket}

// Store is the BoltDB-backed persistence layer.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the database file under dataPath and
// ensures every bucket exists.
func Open(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "agent-data.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func put(tx *bbolt.Tx, bucket, key string, value any) error {
	b := tx.Bucket([]byte(bucket))
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", bucket, err)
	}
	return b.Put([]byte(key), data)
}

// SaveEvent persists a single append-only audit event.
func (s *Store) SaveEvent(ev types.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		key := fmt.Sprintf("%020d_%s", ev.Timestamp.UnixNano(), ev.ID)
		return put(tx, eventsBucket, key, ev)
	})
}

// SaveTrade persists or updates a trade contract row (contract fields,
// lifecycle timestamps, fills, exit reason, and PnL are all carried on the
// TradeRecord).
func (s *Store) SaveTrade(t TradeRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, tradesBucket, t.Contract.TradeID, t)
	})
}

// SaveTradeWithEvent persists a trade and an accompanying event in a single
// transaction, per the shared-resource multi-statement-update requirement.
func (s *Store) SaveTradeWithEvent(t TradeRecord, ev types.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := put(tx, tradesBucket, t.Contract.TradeID, t); err != nil {
			return err
		}
		key := fmt.Sprintf("%020d_%s", ev.Timestamp.UnixNano(), ev.ID)
		return put(tx, eventsBucket, key, ev)
	})
}

// SaveOrder persists a local order shadow.
func (s *Store) SaveOrder(o OrderRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, ordersBucket, o.LocalID, o)
	})
}

// SaveWatch persists a watch rule.
func (s *Store) SaveWatch(w types.WatchRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, watchesBucket, w.ID, w)
	})
}

// SaveSettings persists the process-wide settings row under a fixed key.
func (s *Store) SaveSettings(settings Settings) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, settingsBucket, "global", settings)
	})
}

// SaveSymbolConfig persists per-symbol configuration (instrument rounding,
// leverage cap, etc).
func (s *Store) SaveSymbolConfig(symbol string, cfg SymbolConfig) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, symbolConfigsBucket, symbol, cfg)
	})
}

// OpenTrades returns every persisted trade that has no recorded close,
// used for startup reconciliation.
func (s *Store) OpenTrades() ([]TradeRecord, error) {
	var out []TradeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tradesBucket))
		return b.ForEach(func(k, v []byte) error {
			var t TradeRecord
			if err := json.Unmarshal(v, &t); err != nil {
				return nil // skip malformed records
			}
			if t.ClosedAt == nil {
				out = append(out, t)
			}
			return nil
		})
	})
	return out, err
}

// Watches returns every persisted watch rule.
func (s *Store) Watches() ([]types.WatchRule, error) {
	var out []types.WatchRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(watchesBucket))
		return b.ForEach(func(k, v []byte) error {
			var w types.WatchRule
			if err := json.Unmarshal(v, &w); err != nil {
				return nil
			}
			out = append(out, w)
			return nil
		})
	})
	return out, err
}

// EventsInRange returns events for a symbol within [start, end], ordered by
// timestamp, using a cursor-based prefix scan.
func (s *Store) EventsInRange(symbol string, start, end time.Time) ([]types.Event, error) {
	var out []types.Event
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		c := b.Cursor()
		startKey := []byte(fmt.Sprintf("%020d_", start.UnixNano()))
		endKey := []byte(fmt.Sprintf("%020d_", end.UnixNano()+1))
		for k, v := c.Seek(startKey); k != nil && string(k) < string(endKey); k, v = c.Next() {
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				continue
			}
			if symbol == "" || ev.Symbol == symbol {
				out = append(out, ev)
			}
		}
		return nil
	})
	return out, err
}
