package tokenmeta

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/metastore"
)

// Store persists Metadata and Lock records over metastore, keyed by
// (chain_id, lowercased_token_address) per §3.
type Store struct {
	meta *metastore.Store
}

func NewStore(meta *metastore.Store) *Store { return &Store{meta: meta} }

func (s *Store) Get(chainID uint64, tokenAddress string) (*Metadata, bool, error) {
	key := StorageKey(chainID, tokenAddress)
	raw, found, err := s.meta.Get(metastore.NamespaceTokenMetadata, []byte(key))
	if err != nil {
		return nil, false, apperr.Internal(err)
	}
	if !found {
		return nil, false, nil
	}
	var m Metadata
	if err := sonic.Unmarshal(raw, &m); err != nil {
		return nil, false, apperr.Internal(fmt.Errorf("decoding token metadata %s: %w", key, err))
	}
	return &m, true, nil
}

// GetOrCreate returns the existing record or a fresh default one (not yet
// persisted) for the given token.
func (s *Store) GetOrCreate(chainID uint64, tokenAddress string, now time.Time) (Metadata, error) {
	m, found, err := s.Get(chainID, tokenAddress)
	if err != nil {
		return Metadata{}, err
	}
	if found {
		return *m, nil
	}
	return newDefault(chainID, tokenAddress, now), nil
}

func (s *Store) Put(m Metadata) error {
	raw, err := sonic.Marshal(m)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.meta.Put(metastore.NamespaceTokenMetadata, []byte(m.StorageKey()), raw); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) Delete(chainID uint64, tokenAddress string) error {
	key := StorageKey(chainID, tokenAddress)
	if err := s.meta.Delete(metastore.NamespaceTokenMetadata, []byte(key)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) GetLock(chainID uint64, tokenAddress string) (*Lock, error) {
	key := StorageKey(chainID, tokenAddress)
	raw, found, err := s.meta.Get(metastore.NamespaceTokenLock, []byte(key))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !found {
		return nil, nil
	}
	var lock Lock
	if err := sonic.Unmarshal(raw, &lock); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decoding token lock %s: %w", key, err))
	}
	return &lock, nil
}

func (s *Store) PutLock(chainID uint64, tokenAddress string, lock Lock) error {
	key := StorageKey(chainID, tokenAddress)
	raw, err := sonic.Marshal(lock)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.meta.Put(metastore.NamespaceTokenLock, []byte(key), raw); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (s *Store) DeleteLock(chainID uint64, tokenAddress string) error {
	key := StorageKey(chainID, tokenAddress)
	if err := s.meta.Delete(metastore.NamespaceTokenLock, []byte(key)); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// RecordUpdate persists the last-update timestamp in a dedicated
// secondary namespace, mirroring original_source's separate
// TokenUpdateRecord — kept apart from the main record so the cooldown
// clock survives even across an admin delete-then-recreate of the
// metadata document itself.
func (s *Store) RecordUpdate(chainID uint64, tokenAddress string, at time.Time) error {
	key := StorageKey(chainID, tokenAddress)
	buf, err := sonic.Marshal(at)
	if err != nil {
		return apperr.Internal(err)
	}
	if err := s.meta.Put(metastore.NamespaceTokenUpdate, []byte(key), buf); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// LastUpdateAt returns the last recorded update time, or the zero time if
// the token has never been updated.
func (s *Store) LastUpdateAt(chainID uint64, tokenAddress string) (time.Time, error) {
	key := StorageKey(chainID, tokenAddress)
	raw, found, err := s.meta.Get(metastore.NamespaceTokenUpdate, []byte(key))
	if err != nil {
		return time.Time{}, apperr.Internal(err)
	}
	if !found {
		return time.Time{}, nil
	}
	var t time.Time
	if err := sonic.Unmarshal(raw, &t); err != nil {
		return time.Time{}, apperr.Internal(err)
	}
	return t, nil
}

// CanUpdate mirrors can_update(cooldown_seconds): true if enough time has
// elapsed since the last recorded update (or there never was one).
func (s *Store) CanUpdate(chainID uint64, tokenAddress string, cooldown time.Duration, now time.Time) (bool, time.Duration, error) {
	last, err := s.LastUpdateAt(chainID, tokenAddress)
	if err != nil {
		return false, 0, err
	}
	if last.IsZero() {
		return true, 0, nil
	}
	elapsed := now.Sub(last)
	if elapsed >= cooldown {
		return true, 0, nil
	}
	return false, cooldown - elapsed, nil
}
