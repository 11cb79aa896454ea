package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/group0/pkg/stateid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmptyHistoryLastIsZero(t *testing.T) {
	s := openTestStore(t)
	last, err := s.Last()
	require.NoError(t, err)
	require.True(t, last.IsZero())
}

func TestAppendThenLastAndContains(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()

	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "first change", time.Hour)))

	last, err := s.Last()
	require.NoError(t, err)
	require.Equal(t, id1, last)

	ok, err := s.Contains(id1)
	require.NoError(t, err)
	require.True(t, ok)

	id2, _ := gen.Next(id1)
	require.NoError(t, s.Apply(s.BuildAppend(id2, "second change", time.Hour)))

	last, err = s.Last()
	require.NoError(t, err)
	require.Equal(t, id2, last)

	ok, err = s.Contains(id1)
	require.NoError(t, err)
	require.True(t, ok, "older entries remain visible until GC'd")
}

func TestCountReflectsRetainedEntries(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()

	n, err := s.Count()
	require.NoError(t, err)
	require.Equal(t, 0, n)

	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "first", time.Hour)))
	id2, _ := gen.Next(id1)
	require.NoError(t, s.Apply(s.BuildAppend(id2, "second", time.Hour)))

	n, err = s.Count()
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestContainsFalseForUnknownID(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()
	unknown, _ := gen.Next(stateid.Zero)

	ok, err := s.Contains(unknown)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTailReturnsMostRecentEntriesNewestLast(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()

	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "first", time.Hour)))
	id2, _ := gen.Next(id1)
	require.NoError(t, s.Apply(s.BuildAppend(id2, "second", time.Hour)))
	id3, _ := gen.Next(id2)
	require.NoError(t, s.Apply(s.BuildAppend(id3, "third", time.Hour)))

	tail, err := s.Tail(2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	require.Equal(t, id2, tail[0].ID)
	require.Equal(t, "second", tail[0].Description)
	require.Equal(t, id3, tail[1].ID)
	require.Equal(t, "third", tail[1].Description)
}

func TestTailCappedAtAvailableEntries(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()

	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "only", time.Hour)))

	tail, err := s.Tail(10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.Equal(t, id1, tail[0].ID)
}

func TestTailZeroOrNegativeReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()
	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "only", time.Hour)))

	tail, err := s.Tail(0)
	require.NoError(t, err)
	require.Empty(t, tail)

	tail, err = s.Tail(-1)
	require.NoError(t, err)
	require.Empty(t, tail)
}

func TestGCPinsNewestEntry(t *testing.T) {
	s := openTestStore(t)
	gen := stateid.NewGenerator()

	id1, _ := gen.Next(stateid.Zero)
	require.NoError(t, s.Apply(s.BuildAppend(id1, "old", time.Nanosecond)))

	time.Sleep(5 * time.Millisecond)

	id2, _ := gen.Next(id1)
	require.NoError(t, s.Apply(s.BuildAppend(id2, "new", time.Hour)))

	require.NoError(t, s.GC())

	ok, err := s.Contains(id1)
	require.NoError(t, err)
	require.False(t, ok, "expired non-newest entry should be reclaimed")

	ok, err = s.Contains(id2)
	require.NoError(t, err)
	require.True(t, ok, "newest entry is never GC'd")

	last, err := s.Last()
	require.NoError(t, err)
	require.Equal(t, id2, last)
}
