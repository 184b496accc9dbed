package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	logger "github.com/sirupsen/logrus"
)

// expiryHeader is the size of the big-endian unix-nano expiry stored in front of every value.
// Zero means the entry never expires.
const expiryHeader = 8

// Store is a small keyed store with per-entry expiry on top of Pebble.
// Expired entries are invisible to readers and removed lazily.
type Store struct {
	db  *pebble.DB
	now func() time.Time
}

// Open opens (or creates) a store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	logger.WithField("path", path).Info("[kvstore] pebble store opened")
	return &Store{db: db, now: time.Now}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Set stores value under key. A ttl <= 0 keeps the entry until deleted.
func (s *Store) Set(key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, expiryHeader+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf[:expiryHeader], uint64(s.now().Add(ttl).UnixNano()))
	}
	copy(buf[expiryHeader:], value)

	if err := s.db.Set([]byte(key), buf, pebble.Sync); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the value for key. ok is false when the key is absent or expired.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	raw, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	value, live := s.decode(raw)
	closer.Close()

	if !live {
		if err := s.Delete(key); err != nil {
			logger.WithError(err).WithField("key", key).Warn("[kvstore] failed to purge expired key")
		}
		return nil, false, nil
	}
	return value, true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan returns every live entry whose key starts with prefix.
func (s *Store) Scan(prefix string) (map[string][]byte, error) {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}

	out := make(map[string][]byte)
	var expired []string
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		value, live := s.decode(iter.Value())
		if !live {
			expired = append(expired, key)
			continue
		}
		out[key] = value
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}

	for _, key := range expired {
		if err := s.Delete(key); err != nil {
			logger.WithError(err).WithField("key", key).Warn("[kvstore] failed to purge expired key")
		}
	}
	return out, nil
}

// decode splits a stored value into its payload, copying it out of pebble-owned memory.
func (s *Store) decode(raw []byte) ([]byte, bool) {
	if len(raw) < expiryHeader {
		return nil, false
	}
	if exp := binary.BigEndian.Uint64(raw[:expiryHeader]); exp != 0 && s.now().UnixNano() >= int64(exp) {
		return nil, false
	}
	value := make([]byte, len(raw)-expiryHeader)
	copy(value, raw[expiryHeader:])
	return value, true
}

// keyUpperBound returns the smallest key greater than every key with the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
