package kvstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSetGetDelete(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set("ws:o1", []byte("127.0.0.1:5000"), time.Hour))

	val, ok, err := s.Get("ws:o1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:5000", string(val))

	require.NoError(t, s.Delete("ws:o1"))
	_, ok, err = s.Get("ws:o1")
	require.NoError(t, err)
	require.False(t, ok)

	// deleting twice is fine
	require.NoError(t, s.Delete("ws:o1"))
}

func TestStoreExpiry(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set("job:a", []byte("a"), time.Minute))
	require.NoError(t, s.Set("job:b", []byte("b"), 0))

	now = now.Add(2 * time.Minute)

	_, ok, err := s.Get("job:a")
	require.NoError(t, err)
	require.False(t, ok, "expired key must be invisible")

	val, ok, err := s.Get("job:b")
	require.NoError(t, err)
	require.True(t, ok, "key without ttl never expires")
	require.Equal(t, "b", string(val))
}

func TestStoreScanPrefix(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set("job:1", []byte("one"), time.Hour))
	require.NoError(t, s.Set("job:2", []byte("two"), time.Hour))
	require.NoError(t, s.Set("job:3", []byte("three"), time.Second))
	require.NoError(t, s.Set("ws:1", []byte("conn"), time.Hour))

	now = now.Add(time.Minute)

	entries, err := s.Scan("job:")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "one", string(entries["job:1"]))
	require.Equal(t, "two", string(entries["job:2"]))

	// the expired entry was purged by the scan
	_, ok, err := s.Get("job:3")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKeyUpperBound(t *testing.T) {
	require.Equal(t, []byte("job;"), keyUpperBound([]byte("job:")))
	require.Equal(t, []byte{0x02}, keyUpperBound([]byte{0x01, 0xff}))
	require.Nil(t, keyUpperBound([]byte{0xff, 0xff}))
}
