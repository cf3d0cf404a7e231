// Package metastore provides the ordered key-value engine (§4.A) that every
// other component uses to persist records: media entities, the content-hash
// dedup index, upload sessions, and token metadata. It is backed by
// badger/v4, giving WAL-backed crash safety and snapshot-isolated reads the
// same way eventstore/badger does for the teacher's event store.
package metastore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Namespace is the logical column-family-equivalent a key belongs to.
// Namespaces are realized as a one-byte key prefix, the same technique the
// teacher's eventstore/badger package uses for its own indexes
// (indexIdPrefix, indexKindPrefix, etc).
type Namespace byte

const (
	NamespaceMedia          Namespace = 'm'
	NamespaceHashIndex      Namespace = 'h'
	NamespaceUploadSessions Namespace = 's'
	NamespaceSessionExpiry  Namespace = 'x' // secondary index: expires_at|session_id -> session_id
	NamespaceTokenMetadata  Namespace = 't'
	NamespaceTokenLock      Namespace = 'l'
	NamespaceTokenUpdate    Namespace = 'u'
	namespaceSchema         Namespace = 'v' // internal: schema_version marker, never scanned by callers
)

const versionKey = "schema_version"

const currentVersion uint16 = 1

// Store wraps a badger database and exposes the namespace-scoped ordered KV
// operations required by §4.A: get, put, delete, scan(prefix) and an atomic
// batch_write across namespaces.
type Store struct {
	db  *badger.DB
	log zerolog.Logger
}

// Open opens (or creates) the badger database at path and runs pending
// migrations. Opening replays the WAL, giving the crash-recovery behavior
// §4.A and §7 require.
func Open(path string, log zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening metadata store at %s: %w", path, err)
	}
	s := &Store{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running metadata store migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Update runs fn inside a read-write badger transaction.
func (s *Store) Update(fn func(txn *badger.Txn) error) error { return s.db.Update(fn) }

// View runs fn inside a read-only (snapshot) badger transaction.
func (s *Store) View(fn func(txn *badger.Txn) error) error { return s.db.View(fn) }

func key(ns Namespace, id []byte) []byte {
	k := make([]byte, 1+len(id))
	k[0] = byte(ns)
	copy(k[1:], id)
	return k
}

// Get reads a single key from namespace ns. Returns (nil, false, nil) when
// absent.
func (s *Store) Get(ns Namespace, id []byte) ([]byte, bool, error) {
	var out []byte
	found := false
	err := s.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(ns, id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("metastore get: %w", err)
	}
	return out, found, nil
}

// Put writes a single key in namespace ns, durably (Open enables badger's
// SyncWrites, so every commit fsyncs the WAL).
func (s *Store) Put(ns Namespace, id, value []byte) error {
	err := s.Update(func(txn *badger.Txn) error {
		return txn.Set(key(ns, id), value)
	})
	if err != nil {
		return fmt.Errorf("metastore put: %w", err)
	}
	return nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (s *Store) Delete(ns Namespace, id []byte) error {
	err := s.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(ns, id))
	})
	if err != nil {
		return fmt.Errorf("metastore delete: %w", err)
	}
	return nil
}

// Entry is one key/value pair returned by Scan, with the namespace prefix
// already stripped from Key.
type Entry struct {
	Key   []byte
	Value []byte
}

// Scan iterates namespace ns in key-sorted order over keys whose suffix
// starts with prefix, under a single snapshot read. It stops early if fn
// returns false.
func (s *Store) Scan(ns Namespace, prefix []byte, fn func(Entry) (bool, error)) error {
	fullPrefix := key(ns, prefix)
	err := s.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true})
		defer it.Close()
		for it.Seek(fullPrefix); it.ValidForPrefix(fullPrefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)[1:]
			var cont bool
			err := item.Value(func(val []byte) error {
				var innerErr error
				cont, innerErr = fn(Entry{Key: k, Value: append([]byte{}, val...)})
				return innerErr
			})
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("metastore scan: %w", err)
	}
	return nil
}

// Mutation is one write applied as part of a BatchWrite. A nil Value with
// Tombstone set is a delete; otherwise it is a set.
type Mutation struct {
	Namespace Namespace
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Set builds a Mutation that sets ns[k] = v.
func Set(ns Namespace, k, v []byte) Mutation { return Mutation{Namespace: ns, Key: k, Value: v} }

// Delete builds a tombstone Mutation that deletes ns[k].
func Delete(ns Namespace, k []byte) Mutation { return Mutation{Namespace: ns, Key: k, Tombstone: true} }

// BatchWrite applies every mutation atomically: either all of them land or
// none do, even across namespaces. This is what keeps the media and
// hash_index writes consistent (§3's media+hash_index invariant) and what
// makes chunked-upload finalization exactly-once (§4.D).
func (s *Store) BatchWrite(ops []Mutation) error {
	err := s.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			k := key(op.Namespace, op.Key)
			if op.Tombstone {
				if err := txn.Delete(k); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set(k, op.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("metastore batch_write: %w", err)
	}
	return nil
}

func (s *Store) runMigrations() error {
	return s.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key(namespaceSchema, []byte(versionKey)))
		if err != nil && err != badger.ErrKeyNotFound {
			return fmt.Errorf("reading schema version: %w", err)
		}

		var version uint16
		if err == nil {
			if err := item.Value(func(val []byte) error {
				version = binary.BigEndian.Uint16(val)
				return nil
			}); err != nil {
				return fmt.Errorf("decoding schema version: %w", err)
			}
		}

		if version < 1 {
			s.log.Info().Msg("metastore migration 1: initializing schema version marker")
			if err := s.bumpVersion(txn, 1); err != nil {
				return err
			}
		}

		return nil
	})
}

func (s *Store) bumpVersion(txn *badger.Txn, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return txn.Set(key(namespaceSchema, []byte(versionKey)), buf[:])
}

// HasPrefix is a small helper used by callers building composite scan
// prefixes (e.g. the session expiry secondary index).
func HasPrefix(k, prefix []byte) bool { return bytes.HasPrefix(k, prefix) }
