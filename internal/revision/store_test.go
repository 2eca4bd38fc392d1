package revision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const st = synctypes.Contemporary

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type testStore struct {
	*Store
	backend *LocalBackend
	clock   *clockwork.FakeClock
}

func newTestStore(t *testing.T, opts ...StoreOption) *testStore {
	t.Helper()

	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(epoch)
	store, err := NewStore(database, backend, append([]StoreOption{WithClock(clock)}, opts...)...)
	require.NoError(t, err)

	return &testStore{Store: store, backend: backend, clock: clock}
}

func (s *testStore) put(t *testing.T, path, content string) *FileRecord {
	t.Helper()
	s.clock.Advance(time.Minute)
	rec, err := s.Put(context.Background(), st, path, strings.NewReader(content), PutOptions{
		ModifiedAt: s.clock.Now(),
		Owner:      "alice",
	})
	require.NoError(t, err)
	return rec
}

func (s *testStore) read(t *testing.T, path string, rev *int) string {
	t.Helper()
	body, _, err := s.Get(context.Background(), st, path, rev)
	require.NoError(t, err)
	defer body.Close()
	b, err := io.ReadAll(body)
	require.NoError(t, err)
	return string(b)
}

func (s *testStore) nonCurrent(t *testing.T, path string) int {
	t.Helper()
	history, err := s.ListHistory(context.Background(), st, path)
	require.NoError(t, err)
	return len(history) - 1
}

func TestStore_PutGet(t *testing.T) {
	s := newTestStore(t)

	rec := s.put(t, "songs/a.txt", "hello")
	assert.Equal(t, 0, rec.Revision)
	assert.Equal(t, utils.BytesHash([]byte("hello")), rec.ContentHash)
	assert.Equal(t, int64(5), rec.Size)
	assert.Equal(t, "alice", rec.Owner)
	assert.False(t, rec.IsDeleted)

	assert.Equal(t, "hello", s.read(t, "songs/a.txt", nil))

	rec = s.put(t, "songs/a.txt", "hello world")
	assert.Equal(t, 1, rec.Revision)
	assert.Equal(t, "hello world", s.read(t, "songs/a.txt", nil))

	rev := 0
	assert.Equal(t, "hello", s.read(t, "songs/a.txt", &rev))
}

func TestStore_PutNormalizesAndValidatesPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Put(ctx, st, "./dir//x.txt", strings.NewReader("x"), PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dir/x.txt", rec.Path)
	assert.True(t, epoch.Equal(rec.ModifiedAt), "zero modified_at defaults to now")

	_, err = s.Put(ctx, st, "../escape.txt", strings.NewReader("x"), PutOptions{})
	assert.ErrorIs(t, err, synctypes.ErrInvalidManifest)

	_, err = s.Put(ctx, "Bogus", "a.txt", strings.NewReader("x"), PutOptions{})
	assert.ErrorIs(t, err, synctypes.ErrInvalidManifest)
}

func TestStore_RevisionMonotonicity(t *testing.T) {
	s := newTestStore(t, WithMaxRevisions(5))

	prev := -1
	for i := 0; i < 25; i++ {
		rec := s.put(t, "a.txt", fmt.Sprintf("v%d", i))
		assert.Greater(t, rec.Revision, prev)
		prev = rec.Revision
	}
	assert.Equal(t, 24, prev)

	history, err := s.ListHistory(context.Background(), st, "a.txt")
	require.NoError(t, err)
	require.Len(t, history, 6)
	for i, rec := range history {
		assert.Equal(t, 24-i, rec.Revision, "no gaps among retained revisions")
	}
}

func TestStore_RetentionBound(t *testing.T) {
	const max = 3
	s := newTestStore(t, WithMaxRevisions(max))
	ctx := context.Background()

	ops := []func(){
		func() { s.put(t, "p.txt", "one") },
		func() { s.put(t, "p.txt", "two") },
		func() {
			_, err := s.Delete(ctx, st, "p.txt", "bob")
			require.NoError(t, err)
		},
		func() { s.put(t, "p.txt", "three") },
		func() {
			_, err := s.Preserve(ctx, st, "p.txt", strings.NewReader("loser"), PutOptions{Owner: "bob", ModifiedAt: epoch})
			require.NoError(t, err)
		},
		func() { s.put(t, "p.txt", "four") },
		func() {
			history, err := s.ListHistory(ctx, st, "p.txt")
			require.NoError(t, err)
			last := history[len(history)-1]
			if last.IsDeleted {
				last = history[0]
			}
			_, err = s.Restore(ctx, st, "p.txt", last.Revision, "carol")
			require.NoError(t, err)
		},
		func() { s.put(t, "p.txt", "five") },
	}

	for round := 0; round < 3; round++ {
		for _, op := range ops {
			op()
			assert.LessOrEqual(t, s.nonCurrent(t, "p.txt"), max)
		}
	}
}

func TestStore_RetentionDropsCopiesOfCurrentFirst(t *testing.T) {
	s := newTestStore(t, WithMaxRevisions(2))
	ctx := context.Background()

	s.put(t, "p.txt", "one")
	s.put(t, "p.txt", "two")
	// keeps the loser as 2 and promotes "two" again as 3
	_, err := s.Preserve(ctx, st, "p.txt", strings.NewReader("loser"), PutOptions{Owner: "bob", ModifiedAt: epoch})
	require.NoError(t, err)

	history, err := s.ListHistory(ctx, st, "p.txt")
	require.NoError(t, err)
	revs := make([]int, 0, len(history))
	for _, rec := range history {
		revs = append(revs, rec.Revision)
	}
	assert.Equal(t, []int{3, 2, 0}, revs)

	zero := 0
	assert.Equal(t, "one", s.read(t, "p.txt", &zero))
	assert.Equal(t, "two", s.read(t, "p.txt", nil))
}

func TestStore_ZeroRetentionKeepsCurrentOnly(t *testing.T) {
	s := newTestStore(t, WithMaxRevisions(0))

	s.put(t, "a.txt", "one")
	s.put(t, "a.txt", "two")

	assert.Equal(t, 0, s.nonCurrent(t, "a.txt"))
	assert.Equal(t, "two", s.read(t, "a.txt", nil))
}

func TestStore_DeleteKeepsHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.put(t, "a.txt", "one")
	s.put(t, "b.txt", "bee")

	tomb, err := s.Delete(ctx, st, "a.txt", "bob")
	require.NoError(t, err)
	assert.True(t, tomb.IsDeleted)
	assert.Equal(t, 1, tomb.Revision)
	assert.Equal(t, "bob", tomb.Owner)

	manifest, err := s.ListCurrent(ctx, st)
	require.NoError(t, err)
	assert.NotContains(t, manifest.Files, "a.txt")
	assert.Contains(t, manifest.Files, "b.txt")
	assert.True(t, tomb.ModifiedAt.Equal(manifest.Tombstones["a.txt"]))

	_, _, err = s.Get(ctx, st, "a.txt", nil)
	assert.ErrorIs(t, err, synctypes.ErrNotFound)

	rev := 0
	assert.Equal(t, "one", s.read(t, "a.txt", &rev))

	_, err = s.Delete(ctx, st, "a.txt", "bob")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)

	_, err = s.Delete(ctx, st, "never.txt", "bob")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)

	// writing again brings the path back
	rec := s.put(t, "a.txt", "again")
	assert.Equal(t, 2, rec.Revision)
	manifest, err = s.ListCurrent(ctx, st)
	require.NoError(t, err)
	assert.Contains(t, manifest.Files, "a.txt")
	assert.NotContains(t, manifest.Tombstones, "a.txt")
}

func TestStore_ServiceTypesAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.put(t, "a.txt", "modern")
	_, err := s.Put(ctx, synctypes.Traditional, "a.txt", strings.NewReader("classic"), PutOptions{})
	require.NoError(t, err)

	contemporary, err := s.ListCurrent(ctx, synctypes.Contemporary)
	require.NoError(t, err)
	traditional, err := s.ListCurrent(ctx, synctypes.Traditional)
	require.NoError(t, err)

	assert.Equal(t, 0, contemporary.Files["a.txt"].Revision)
	assert.Equal(t, 0, traditional.Files["a.txt"].Revision)
	assert.NotEqual(t, contemporary.Files["a.txt"].ContentHash, traditional.Files["a.txt"].ContentHash)
}

func TestStore_ExpectedHashMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, st, "a.txt", strings.NewReader("actual"), PutOptions{
		ExpectedHash: utils.BytesHash([]byte("declared")),
	})
	assert.ErrorIs(t, err, synctypes.ErrIntegrity)
	assert.NotErrorIs(t, err, synctypes.ErrStoreFailure)

	_, err = s.ListHistory(ctx, st, "a.txt")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)

	exists, err := s.backend.Exists(ctx, st, utils.BytesHash([]byte("actual")))
	require.NoError(t, err)
	assert.False(t, exists)

	rec, err := s.Put(ctx, st, "a.txt", strings.NewReader("actual"), PutOptions{
		ExpectedHash: utils.BytesHash([]byte("actual")),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Revision)
}

func TestStore_PreserveKeepsCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	server := s.put(t, "b.txt", "server T5")

	preserved, err := s.Preserve(ctx, st, "b.txt", strings.NewReader("client T3"), PutOptions{
		ModifiedAt: epoch.Add(-time.Hour),
		Owner:      "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, preserved.Revision)
	assert.Equal(t, "bob", preserved.Owner)

	assert.Equal(t, "server T5", s.read(t, "b.txt", nil))
	assert.Equal(t, "client T3", s.read(t, "b.txt", &preserved.Revision))

	current, err := s.Current(ctx, st, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, current.Revision)
	assert.Equal(t, server.ContentHash, current.ContentHash)
	assert.True(t, server.ModifiedAt.Equal(current.ModifiedAt))
	assert.Equal(t, server.Owner, current.Owner)

	_, err = s.Preserve(ctx, st, "missing.txt", strings.NewReader("x"), PutOptions{})
	assert.ErrorIs(t, err, synctypes.ErrNotFound)
}

func TestStore_Restore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := s.put(t, "a.txt", "first")
	s.put(t, "a.txt", "second")
	s.clock.Advance(time.Hour)

	restored, err := s.Restore(ctx, st, "a.txt", first.Revision, "carol")
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Revision)
	assert.Equal(t, first.ContentHash, restored.ContentHash)
	assert.Equal(t, "carol", restored.Owner)
	assert.True(t, s.clock.Now().Equal(restored.ModifiedAt))
	assert.Equal(t, "first", s.read(t, "a.txt", nil))

	_, err = s.Restore(ctx, st, "a.txt", 42, "carol")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)

	tomb, err := s.Delete(ctx, st, "a.txt", "carol")
	require.NoError(t, err)
	_, err = s.Restore(ctx, st, "a.txt", tomb.Revision, "carol")
	assert.ErrorIs(t, err, synctypes.ErrNotFound)
}

func TestStore_GarbageCollectsUnreferencedContent(t *testing.T) {
	s := newTestStore(t, WithMaxRevisions(1))
	ctx := context.Background()

	s.put(t, "a.txt", "one")
	s.put(t, "b.txt", "one") // same content on another path
	s.put(t, "a.txt", "two")
	s.put(t, "a.txt", "three")

	exists, err := s.backend.Exists(ctx, st, utils.BytesHash([]byte("one")))
	require.NoError(t, err)
	assert.True(t, exists, "still referenced by b.txt")

	s.put(t, "b.txt", "four")
	s.put(t, "b.txt", "five")

	exists, err = s.backend.Exists(ctx, st, utils.BytesHash([]byte("one")))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = s.backend.Exists(ctx, st, utils.BytesHash([]byte("two")))
	require.NoError(t, err)
	assert.True(t, exists, "kept as the single history entry of a.txt")
}

func TestStore_ConcurrentPuts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	const perWorker = 5

	var wg sync.WaitGroup
	var mu sync.Mutex
	revisions := map[string][]int{}
	errs := make(chan error, workers*perWorker*2)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				for _, path := range []string{"shared.txt", fmt.Sprintf("own-%d.txt", w)} {
					rec, err := s.Put(ctx, st, path, bytes.NewReader([]byte(fmt.Sprintf("%d-%d", w, i))), PutOptions{})
					if err != nil {
						errs <- err
						continue
					}
					mu.Lock()
					revisions[path] = append(revisions[path], rec.Revision)
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Fatalf("put failed: %v", err)
	}

	seen := map[int]bool{}
	for _, rev := range revisions["shared.txt"] {
		assert.False(t, seen[rev], "revision %d handed out twice", rev)
		seen[rev] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, 0, s.paths.size())
}

type failingBackend struct {
	ContentBackend
}

func (failingBackend) Write(context.Context, synctypes.ServiceType, io.Reader, string) (*BlobInfo, error) {
	return nil, errors.New("disk full")
}

func TestStore_BackendFailureIsStoreFailure(t *testing.T) {
	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	store, err := NewStore(database, failingBackend{})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), st, "a.txt", strings.NewReader("x"), PutOptions{})
	assert.ErrorIs(t, err, synctypes.ErrStoreFailure)
}
