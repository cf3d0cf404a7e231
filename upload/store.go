package upload

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/rexpump/media-upload-server-public/apperr"
	"github.com/rexpump/media-upload-server-public/metastore"
)

// SessionStore persists upload sessions and maintains a secondary
// expiration index (expires_at|id -> id) so the janitor can scan
// lexicographically and stop as soon as it passes "now", the same
// technique database.rs's cleanup_expired_sessions uses.
type SessionStore struct {
	meta *metastore.Store
}

func NewSessionStore(meta *metastore.Store) *SessionStore { return &SessionStore{meta: meta} }

func expiryIndexKey(expiresAt time.Time, id string) []byte {
	buf := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt.Unix()))
	copy(buf[8:], id)
	return buf
}

func (st *SessionStore) Get(id string) (*Session, error) {
	raw, found, err := st.meta.Get(metastore.NamespaceUploadSessions, []byte(id))
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if !found {
		return nil, apperr.NotFound("upload session not found")
	}
	var s Session
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return nil, apperr.Internal(fmt.Errorf("decoding session %s: %w", id, err))
	}
	return &s, nil
}

// Insert creates a brand new session record plus its expiry-index entry.
func (st *SessionStore) Insert(s Session) error {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return apperr.Internal(err)
	}
	ops := []metastore.Mutation{
		metastore.Set(metastore.NamespaceUploadSessions, []byte(s.ID), raw),
		metastore.Set(metastore.NamespaceSessionExpiry, expiryIndexKey(s.ExpiresAt, s.ID), []byte(s.ID)),
	}
	if err := st.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// Update persists s, refreshing the expiry index when expires_at changed
// relative to previous. This mirrors database.rs's update_session, which
// only rewrites the secondary index entry when expires_at actually moved.
func (st *SessionStore) Update(previous, s Session) error {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return apperr.Internal(err)
	}
	ops := []metastore.Mutation{
		metastore.Set(metastore.NamespaceUploadSessions, []byte(s.ID), raw),
	}
	if !previous.ExpiresAt.Equal(s.ExpiresAt) {
		ops = append(ops,
			metastore.Delete(metastore.NamespaceSessionExpiry, expiryIndexKey(previous.ExpiresAt, previous.ID)),
			metastore.Set(metastore.NamespaceSessionExpiry, expiryIndexKey(s.ExpiresAt, s.ID), []byte(s.ID)),
		)
	}
	if err := st.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// UpdateWithMutations persists s in the same atomic batch as extraOps,
// used by finalization to make the session's completed transition and the
// media+hash_index write exactly-once together (§4.D).
func (st *SessionStore) UpdateWithMutations(previous, s Session, extraOps []metastore.Mutation) error {
	raw, err := sonic.Marshal(s)
	if err != nil {
		return apperr.Internal(err)
	}
	ops := append([]metastore.Mutation{}, extraOps...)
	ops = append(ops, metastore.Set(metastore.NamespaceUploadSessions, []byte(s.ID), raw))
	if !previous.ExpiresAt.Equal(s.ExpiresAt) {
		ops = append(ops,
			metastore.Delete(metastore.NamespaceSessionExpiry, expiryIndexKey(previous.ExpiresAt, previous.ID)),
			metastore.Set(metastore.NamespaceSessionExpiry, expiryIndexKey(s.ExpiresAt, s.ID), []byte(s.ID)),
		)
	}
	if err := st.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

func (st *SessionStore) Delete(s Session) error {
	ops := []metastore.Mutation{
		metastore.Delete(metastore.NamespaceUploadSessions, []byte(s.ID)),
		metastore.Delete(metastore.NamespaceSessionExpiry, expiryIndexKey(s.ExpiresAt, s.ID)),
	}
	if err := st.meta.BatchWrite(ops); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// ExpiredBefore scans the expiry index lexicographically and stops as soon
// as a key's embedded timestamp exceeds now, exactly like
// cleanup_expired_sessions in database.rs.
func (st *SessionStore) ExpiredBefore(now time.Time) ([]Session, error) {
	var out []Session
	err := st.meta.Scan(metastore.NamespaceSessionExpiry, nil, func(e metastore.Entry) (bool, error) {
		if len(e.Key) < 8 {
			return true, nil
		}
		ts := int64(binary.BigEndian.Uint64(e.Key[:8]))
		if time.Unix(ts, 0).After(now) {
			return false, nil // sorted ascending; nothing further can be expired
		}
		id := string(e.Key[8:])
		s, err := st.Get(id)
		if err != nil {
			if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindNotFound {
				return true, nil
			}
			return false, err
		}
		if s.Status == StatusInProgress {
			out = append(out, *s)
		}
		return true, nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}

// AllIDs lists every known session id, used by the janitor to distinguish
// live scratch directories from orphans.
func (st *SessionStore) AllIDs() (map[string]bool, error) {
	ids := map[string]bool{}
	err := st.meta.Scan(metastore.NamespaceUploadSessions, nil, func(e metastore.Entry) (bool, error) {
		ids[string(e.Key)] = true
		return true, nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return ids, nil
}

// AllInStatus lists every session currently in the given status. Used on
// startup to fail any session stuck in "processing" after a crash (§7, §9
// Open Question resolved toward failing rather than retrying).
func (st *SessionStore) AllInStatus(status Status) ([]Session, error) {
	var out []Session
	err := st.meta.Scan(metastore.NamespaceUploadSessions, nil, func(e metastore.Entry) (bool, error) {
		var s Session
		if err := sonic.Unmarshal(e.Value, &s); err != nil {
			return true, nil
		}
		if s.Status == status {
			out = append(out, s)
		}
		return true, nil
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return out, nil
}
