package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Store is the embedded badger database holding run metadata, OCPP
// configuration keys and per-connector baselines. Meter baselines persist
// across restarts so the simulated meter keeps counting up.
type Store struct {
	db *badger.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenMemoryStore backs the store with an in-memory badger instance,
// used by tests and by --db=:memory:.
func OpenMemoryStore() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true))
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) set(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
}

func (s *Store) get(key string) (string, bool, error) {
	var value string
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		value = string(v)
		found = true
		return nil
	})
	return value, found, err
}

func (s *Store) getInt(key string) (int, bool) {
	v, ok, err := s.get(key)
	if err != nil || !ok {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func setIfNotExistsTX(txn *badger.Txn, key, value string) error {
	if _, err := txn.Get([]byte(key)); err == nil {
		return nil
	}
	return txn.Set([]byte(key), []byte(value))
}

func incrementTX(txn *badger.Txn, key string, delta int) error {
	current := 0
	item, err := txn.Get([]byte(key))
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if err == nil {
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if current, err = strconv.Atoi(string(v)); err != nil {
			return err
		}
	}
	return txn.Set([]byte(key), []byte(strconv.Itoa(current+delta)))
}

// SeedDefaults writes run metadata and the default OCPP configuration keys
// that are only set when absent.
func (s *Store) SeedDefaults(cfg Config) error {
	return s.db.Update(func(txn *badger.Txn) error {
		txn.Set([]byte("started_at"), []byte(time.Now().Format(time.RFC3339)))
		txn.Set([]byte("station_id"), []byte(cfg.StationID))
		txn.Set([]byte("cs_url"), []byte(cfg.CentralSystemURL))
		setIfNotExistsTX(txn, "NumberOfConnectors", strconv.Itoa(cfg.Connectors))
		setIfNotExistsTX(txn, "HeartbeatInterval", "300")
		setIfNotExistsTX(txn, "MeterValueSampleInterval", "1")
		setIfNotExistsTX(txn, "MeterValuesSampledData", "Energy.Active.Import.Register,Power.Active.Import,Voltage,Current.Import,SoC")
		setIfNotExistsTX(txn, "SupportedFeatureProfiles", "Core")
		return nil
	})
}

// RecordShutdown stamps the stop time, mirroring the started_at key.
func (s *Store) RecordShutdown() error {
	return s.set("stopped_at", time.Now().Format(time.RFC3339))
}

// LastMeterWh is the final reading of the connector's previous session.
func (s *Store) LastMeterWh(connector int) (uint64, bool) {
	v, ok := s.getInt(fmt.Sprintf(lastMeterKeyFmt, connector))
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// RecordSessionStart stores the running transaction id and bumps the
// per-connector session counter.
func (s *Store) RecordSessionStart(connector, txID int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(fmt.Sprintf(transactionKeyFmt, connector)), []byte(strconv.Itoa(txID))); err != nil {
			return err
		}
		return incrementTX(txn, fmt.Sprintf(sessionCountKeyFmt, connector), 1)
	})
}

// RecordSessionEnd persists the final readings as the next session's
// baseline and clears the transaction key.
func (s *Store) RecordSessionEnd(connector int, meterWh uint64, soc int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(fmt.Sprintf(lastMeterKeyFmt, connector)), []byte(strconv.FormatUint(meterWh, 10))); err != nil {
			return err
		}
		if err := txn.Set([]byte(fmt.Sprintf(lastSoCKeyFmt, connector)), []byte(strconv.Itoa(soc))); err != nil {
			return err
		}
		return txn.Delete([]byte(fmt.Sprintf(transactionKeyFmt, connector)))
	})
}

// ConfigValue reads an OCPP configuration key.
func (s *Store) ConfigValue(key string) (string, bool) {
	v, ok, err := s.get(key)
	if err != nil {
		return "", false
	}
	return v, ok
}

// SetConfigValue writes an OCPP configuration key.
func (s *Store) SetConfigValue(key, value string) error {
	return s.set(key, value)
}

// HeartbeatInterval returns the negotiated heartbeat interval.
func (s *Store) HeartbeatInterval() time.Duration {
	if v, ok := s.getInt("HeartbeatInterval"); ok && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 300 * time.Second
}

func (s *Store) SetHeartbeatInterval(seconds int) error {
	return s.set("HeartbeatInterval", strconv.Itoa(seconds))
}

// Dump iterates every key/value pair, truncating long values, for the
// control server's database listing.
func (s *Store) Dump(fn func(key, value string)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			v, _ := item.ValueCopy(nil)
			if len(v) > 150 {
				v = []byte(fmt.Sprintf("%s...", v[:150]))
			}
			fn(string(item.Key()), string(v))
		}
		return nil
	})
}
