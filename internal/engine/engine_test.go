package engine

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/chonky/internal/diff"
	"github.com/aweris/chonky/internal/digest"
	"github.com/aweris/chonky/internal/manifest"
	"github.com/aweris/chonky/internal/store"
	"github.com/aweris/chonky/internal/workspace"
)

const manifestPath = "/proj/CHONKY"

// memStore is an in-memory object store with failure injection.
type memStore struct {
	mu      sync.Mutex
	objects map[digest.Digest][]byte
	corrupt map[digest.Digest][]byte
	putErr  error
	gets    int
	puts    int
}

func newMemStore() *memStore {
	return &memStore{
		objects: map[digest.Digest][]byte{},
		corrupt: map[digest.Digest][]byte{},
	}
}

func (m *memStore) add(content string) digest.Digest {
	d := digest.FromBytes([]byte(content))
	m.mu.Lock()
	m.objects[d] = []byte(content)
	m.mu.Unlock()
	return d
}

func (m *memStore) has(d digest.Digest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[d]
	return ok
}

func (m *memStore) Exists(_ context.Context, d digest.Digest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[d]
	if _, bad := m.corrupt[d]; bad {
		ok = true
	}
	return ok, nil
}

func (m *memStore) Get(_ context.Context, d digest.Digest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if data, ok := m.corrupt[d]; ok {
		return data, nil
	}
	data, ok := m.objects[d]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Put(_ context.Context, d digest.Digest, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.objects[d] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Delete(_ context.Context, d digest.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, d)
	return nil
}

type fixture struct {
	fs     afero.Fs
	store  *memStore
	engine *Engine
}

func newFixture(t *testing.T, config string, head map[string]digest.Digest) *fixture {
	t.Helper()

	fs := afero.NewMemMapFs()
	st := newMemStore()

	var b strings.Builder
	b.WriteString("[config]\ntype = local\n" + config + "\n[HEAD]\n")
	paths := make([]string, 0, len(head))
	for p := range head {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		b.WriteString(p + " = " + head[p].String() + "\n")
	}
	require.NoError(t, afero.WriteFile(fs, manifestPath, []byte(b.String()), 0o644))

	return &fixture{
		fs:     fs,
		store:  st,
		engine: New(Config{ManifestPath: manifestPath, Store: st, Fs: fs, Workers: 4}),
	}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll(path.Dir("/proj/"+rel), 0o755))
	require.NoError(t, afero.WriteFile(f.fs, "/proj/"+rel, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, "/proj/"+rel)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) exists(t *testing.T, rel string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, "/proj/"+rel)
	require.NoError(t, err)
	return ok
}

func (f *fixture) manifestBytes(t *testing.T) string {
	t.Helper()
	data, err := afero.ReadFile(f.fs, manifestPath)
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) setBase(t *testing.T, head map[string]digest.Digest) {
	t.Helper()
	require.NoError(t, manifest.Persist(f.fs, "/proj/.HEAD", manifest.NewBase(head)))
}

func (f *fixture) base(t *testing.T) map[string]digest.Digest {
	t.Helper()
	b, err := manifest.LoadBase(f.fs, "/proj/.HEAD")
	require.NoError(t, err)
	return b.Head()
}

func (f *fixture) status(t *testing.T) map[string]diff.Status {
	t.Helper()
	report, err := f.engine.Status(context.Background())
	require.NoError(t, err)
	got := map[string]diff.Status{}
	for _, e := range report.Entries {
		got[e.Path] = e.Status
	}
	return got
}

func (f *fixture) leftovers(t *testing.T) []string {
	t.Helper()
	var found []string
	require.NoError(t, afero.Walk(f.fs, "/proj", func(p string, _ os.FileInfo, err error) error {
		if err == nil && (strings.HasSuffix(p, ".chonky-tmp") || strings.HasSuffix(p, ".tmp") || strings.HasSuffix(p, ".lock")) {
			found = append(found, p)
		}
		return err
	}))
	return found
}

func TestSyncFetchesMissingFile(t *testing.T) {
	milo := digest.FromBytes([]byte("milo bytes"))

	f := newFixture(t, "", map[string]digest.Digest{"cats/milo.jpg": milo})
	f.store.add("milo bytes")
	before := f.manifestBytes(t)

	assert.Equal(t, map[string]diff.Status{"cats/milo.jpg": diff.MissingLocally}, f.status(t))

	res, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"cats/milo.jpg"}, res.Fetched)

	assert.Equal(t, "milo bytes", f.read(t, "cats/milo.jpg"))
	assert.Equal(t, map[string]diff.Status{"cats/milo.jpg": diff.Unmodified}, f.status(t))
	assert.Equal(t, before, f.manifestBytes(t), "sync never changes the manifest")
	assert.Equal(t, map[string]digest.Digest{"cats/milo.jpg": milo}, f.base(t))
	assert.Empty(t, f.leftovers(t))
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t, "", nil)
	a := f.store.add("a")
	b := f.store.add("b")
	require.NoError(t, manifest.Persist(f.fs, manifestPath,
		manifest.New([]manifest.KeyValue{{Key: "type", Value: "local"}}, map[string]digest.Digest{"a.bin": a, "dir/b.bin": b})))

	first, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, first.Fetched, 2)
	gets := f.store.gets

	second, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, second.Fetched)
	assert.Empty(t, second.Removed)
	assert.Equal(t, gets, f.store.gets, "second sync transfers nothing")
}

func TestSyncFetchesSharedContentOnce(t *testing.T) {
	f := newFixture(t, "", nil)
	d := f.store.add("same")
	require.NoError(t, manifest.Persist(f.fs, manifestPath,
		manifest.New([]manifest.KeyValue{{Key: "type", Value: "local"}}, map[string]digest.Digest{"x/1.bin": d, "y/2.bin": d, "3.bin": d})))

	res, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []string{"3.bin", "x/1.bin", "y/2.bin"}, res.Fetched)
	assert.Equal(t, 1, f.store.gets)
	assert.Equal(t, "same", f.read(t, "y/2.bin"))
}

func TestSubmitAddsFile(t *testing.T) {
	f := newFixture(t, "", nil)
	f.write(t, "dogs/rex.png", "rex bytes")
	rex := digest.FromBytes([]byte("rex bytes"))

	assert.Equal(t, map[string]diff.Status{"dogs/rex.png": diff.AddedLocally}, f.status(t))

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs/rex.png"}, res.Uploaded)

	assert.True(t, f.store.has(rex))
	assert.Contains(t, f.manifestBytes(t), "dogs/rex.png = "+rex.String()+"\n")
	assert.Equal(t, map[string]digest.Digest{"dogs/rex.png": rex}, f.base(t))
	assert.Equal(t, map[string]diff.Status{"dogs/rex.png": diff.Unmodified}, f.status(t))
	assert.Empty(t, f.leftovers(t))
}

func TestSubmitUploadsSharedContentOnce(t *testing.T) {
	f := newFixture(t, "", nil)
	f.write(t, "a.bin", "dup")
	f.write(t, "b/c.bin", "dup")

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.puts)
	assert.Equal(t, []string{"a.bin", "b/c.bin"}, res.Uploaded)

	m, err := manifest.Load(f.fs, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin", "b/c.bin"}, m.Paths())
}

func TestSubmitSkipsStoredObjects(t *testing.T) {
	f := newFixture(t, "", nil)
	f.store.add("known")
	f.write(t, "k.bin", "known")

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"k.bin"}, res.Skipped)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, 0, f.store.puts)
}

func TestSubmitModifiesAndDeletes(t *testing.T) {
	old := digest.FromBytes([]byte("v1"))
	gone := digest.FromBytes([]byte("bye"))
	head := map[string]digest.Digest{"art/hero.psd": old, "art/old.psd": gone}

	f := newFixture(t, "", head)
	f.setBase(t, head)
	f.write(t, "art/hero.psd", "v2")

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"art/hero.psd"}, res.Uploaded)
	assert.Equal(t, []string{"art/old.psd"}, res.Removed)

	m, err := manifest.Load(f.fs, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, map[string]digest.Digest{"art/hero.psd": digest.FromBytes([]byte("v2"))}, m.Head())
	assert.Equal(t, m.Head(), f.base(t))
}

func TestSubmitFailureLeavesManifestUntouched(t *testing.T) {
	keep := digest.FromBytes([]byte("keep"))
	head := map[string]digest.Digest{"keep.bin": keep}

	f := newFixture(t, "", head)
	f.setBase(t, head)
	f.write(t, "keep.bin", "keep")
	f.write(t, "one.bin", "1")
	f.write(t, "two.bin", "2")
	f.write(t, "three.bin", "3")
	f.store.putErr = errors.New("bucket unavailable")

	before := f.manifestBytes(t)

	_, err := f.engine.Submit(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bucket unavailable")

	assert.Equal(t, before, f.manifestBytes(t))
	assert.Equal(t, head, f.base(t))
	assert.Empty(t, f.leftovers(t))
}

func TestSubmitCancelledLeavesManifestUntouched(t *testing.T) {
	f := newFixture(t, "", nil)
	f.write(t, "a.bin", "a")
	before := f.manifestBytes(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, before, f.manifestBytes(t))
}

func TestSubmitRequiresSync(t *testing.T) {
	remote := digest.FromBytes([]byte("remote"))
	f := newFixture(t, "", map[string]digest.Digest{"incoming.bin": remote})
	f.write(t, "mine.bin", "mine")
	before := f.manifestBytes(t)

	_, err := f.engine.Submit(context.Background())
	assert.ErrorIs(t, err, ErrOutOfDate)

	var outOfDate *OutOfDateError
	require.ErrorAs(t, err, &outOfDate)
	assert.Equal(t, []string{"incoming.bin"}, outOfDate.Paths)
	assert.Equal(t, before, f.manifestBytes(t))
	assert.Equal(t, 0, f.store.puts)
}

func TestConflictDetection(t *testing.T) {
	h1, h2 := digest.FromBytes([]byte("base")), digest.FromBytes([]byte("remote"))

	f := newFixture(t, "", map[string]digest.Digest{"scene.bin": h2})
	f.store.add("remote")
	f.setBase(t, map[string]digest.Digest{"scene.bin": h1})
	f.write(t, "scene.bin", "local")

	assert.Equal(t, map[string]diff.Status{"scene.bin": diff.Conflicted}, f.status(t))

	_, err := f.engine.Sync(context.Background(), false)
	assert.ErrorIs(t, err, ErrConflict)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"scene.bin"}, conflict.Paths)
	assert.Equal(t, "local", f.read(t, "scene.bin"))

	_, err = f.engine.Submit(context.Background())
	assert.ErrorIs(t, err, ErrConflict)

	res, err := f.engine.Sync(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"scene.bin"}, res.Fetched)
	assert.Equal(t, "remote", f.read(t, "scene.bin"))
	assert.Equal(t, map[string]digest.Digest{"scene.bin": h2}, f.base(t))
}

func TestSyncKeepsLocalChanges(t *testing.T) {
	base := digest.FromBytes([]byte("v1"))
	f := newFixture(t, "", nil)
	fresh := f.store.add("fresh")
	head := map[string]digest.Digest{"mine.bin": base, "fresh.bin": fresh}
	require.NoError(t, manifest.Persist(f.fs, manifestPath, manifest.New([]manifest.KeyValue{{Key: "type", Value: "local"}}, head)))
	f.setBase(t, map[string]digest.Digest{"mine.bin": base})
	f.write(t, "mine.bin", "v2")
	f.write(t, "extra.bin", "new")

	res, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh.bin"}, res.Fetched)

	assert.Equal(t, "v2", f.read(t, "mine.bin"))
	assert.Equal(t, "new", f.read(t, "extra.bin"))
	assert.Equal(t, map[string]diff.Status{
		"mine.bin":  diff.ModifiedLocally,
		"extra.bin": diff.AddedLocally,
		"fresh.bin": diff.Unmodified,
	}, f.status(t))
}

func TestSyncAppliesRemoteRemovalsAndChanges(t *testing.T) {
	v1 := digest.FromBytes([]byte("v1"))
	f := newFixture(t, "", nil)
	v2 := f.store.add("v2")
	require.NoError(t, manifest.Persist(f.fs, manifestPath,
		manifest.New([]manifest.KeyValue{{Key: "type", Value: "local"}}, map[string]digest.Digest{"changed.bin": v2})))
	f.setBase(t, map[string]digest.Digest{"changed.bin": v1, "old/dropped.bin": v1})
	f.write(t, "changed.bin", "v1")
	f.write(t, "old/dropped.bin", "v1")

	assert.Equal(t, map[string]diff.Status{
		"changed.bin":     diff.ChangedRemotely,
		"old/dropped.bin": diff.RemovedRemotely,
	}, f.status(t))

	res, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, []string{"changed.bin"}, res.Fetched)
	assert.Equal(t, []string{"old/dropped.bin"}, res.Removed)

	assert.Equal(t, "v2", f.read(t, "changed.bin"))
	assert.False(t, f.exists(t, "old/dropped.bin"))
	assert.False(t, f.exists(t, "old"))
}

func TestSyncHashMismatchLeavesWorkspaceUntouched(t *testing.T) {
	v1 := digest.FromBytes([]byte("v1"))
	good := digest.FromBytes([]byte("good"))
	bad := digest.FromBytes([]byte("expected"))

	f := newFixture(t, "", map[string]digest.Digest{"a.bin": good, "b.bin": bad, "c.bin": v1})
	f.store.add("good")
	f.store.corrupt[bad] = []byte("tampered")
	f.setBase(t, map[string]digest.Digest{"c.bin": digest.FromBytes([]byte("v0"))})
	f.write(t, "c.bin", "v0")
	f.store.add("v1")

	_, err := f.engine.Sync(context.Background(), false)
	require.ErrorIs(t, err, store.ErrHashMismatch)

	assert.False(t, f.exists(t, "a.bin"))
	assert.False(t, f.exists(t, "b.bin"))
	assert.Equal(t, "v0", f.read(t, "c.bin"))
	assert.Equal(t, map[string]digest.Digest{"c.bin": digest.FromBytes([]byte("v0"))}, f.base(t))
	assert.Empty(t, f.leftovers(t))
}

func TestSyncRemoteMissing(t *testing.T) {
	lost := digest.FromBytes([]byte("lost"))
	f := newFixture(t, "", map[string]digest.Digest{"lost.bin": lost})

	assert.Equal(t, map[string]diff.Status{"lost.bin": diff.RemoteMissing}, f.status(t))

	_, err := f.engine.Sync(context.Background(), false)
	assert.ErrorIs(t, err, ErrRemoteMissing)
	var missing *RemoteMissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"lost.bin"}, missing.Paths)

	_, err = afero.ReadFile(f.fs, "/proj/.HEAD")
	assert.Error(t, err, "no base record is written on failure")
}

func TestRevert(t *testing.T) {
	f := newFixture(t, "", nil)
	hero := f.store.add("hero v1")
	tree := f.store.add("tree")
	head := map[string]digest.Digest{"hero.psd": hero, "props/tree.fbx": tree}
	require.NoError(t, manifest.Persist(f.fs, manifestPath, manifest.New([]manifest.KeyValue{{Key: "type", Value: "local"}}, head)))
	f.setBase(t, head)

	f.write(t, "hero.psd", "hero v2")
	f.write(t, "scratch.bin", "junk")
	before := f.manifestBytes(t)

	res, err := f.engine.Revert(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hero.psd", "props/tree.fbx"}, res.Restored)
	assert.Equal(t, []string{"scratch.bin"}, res.Removed)

	assert.Equal(t, "hero v1", f.read(t, "hero.psd"))
	assert.Equal(t, "tree", f.read(t, "props/tree.fbx"))
	assert.False(t, f.exists(t, "scratch.bin"))
	assert.Equal(t, before, f.manifestBytes(t))
	assert.Equal(t, head, f.base(t))

	for path, status := range f.status(t) {
		assert.Equal(t, diff.Unmodified, status, path)
	}
}

func TestRevertNothing(t *testing.T) {
	f := newFixture(t, "", nil)
	res, err := f.engine.Revert(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Restored)
	assert.Empty(t, res.Removed)
}

func TestIgnoredFilesAreNotSubmitted(t *testing.T) {
	f := newFixture(t, "ignore = *.tmp cache/\n", nil)
	f.write(t, "keep.bin", "keep")
	f.write(t, "notes.tmp", "scratch")
	f.write(t, "cache/blob.bin", "cached")

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.bin"}, res.Uploaded)

	m, err := manifest.Load(f.fs, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.bin"}, m.Paths())
}

func TestWorkspaceDirectory(t *testing.T) {
	f := newFixture(t, "workspace = Assets/\n", nil)
	f.write(t, "Assets/tex/wall.png", "wall")
	f.write(t, "outside.bin", "not tracked")

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tex/wall.png"}, res.Uploaded)

	exists, err := afero.Exists(f.fs, "/proj/Assets/.HEAD")
	require.NoError(t, err)
	assert.True(t, exists)

	root, err := f.engine.Root()
	require.NoError(t, err)
	assert.Equal(t, "/proj/Assets", root)
}

func TestManifestIsNotTracked(t *testing.T) {
	f := newFixture(t, "", nil)
	assert.Empty(t, f.status(t))
}

func TestLockContention(t *testing.T) {
	f := newFixture(t, "", nil)
	require.NoError(t, afero.WriteFile(f.fs, "/proj/.CHONKY.lock", []byte("pid=1\n"), 0o644))

	_, err := f.engine.Sync(context.Background(), false)
	assert.ErrorIs(t, err, manifest.ErrLocked)
	_, err = f.engine.Submit(context.Background())
	assert.ErrorIs(t, err, manifest.ErrLocked)
}

func TestLockReleasedAfterFailure(t *testing.T) {
	f := newFixture(t, "", map[string]digest.Digest{"lost.bin": digest.FromBytes([]byte("lost"))})

	_, err := f.engine.Sync(context.Background(), false)
	require.Error(t, err)
	assert.False(t, f.exists(t, ".CHONKY.lock"))
}

func TestCorruptManifest(t *testing.T) {
	f := newFixture(t, "", nil)
	require.NoError(t, afero.WriteFile(f.fs, manifestPath, []byte("[config]\ntype = local\n\n[HEAD]\na.bin = zz\n"), 0o644))
	f.write(t, "a.bin", "a")

	_, err := f.engine.Sync(context.Background(), false)
	assert.ErrorIs(t, err, manifest.ErrCorrupt)
	_, err = f.engine.Submit(context.Background())
	assert.ErrorIs(t, err, manifest.ErrCorrupt)
	assert.Equal(t, 0, f.store.puts)
}

func TestSubmitUnusualFileNames(t *testing.T) {
	names := []string{"#draft.bin", ";notes.txt", "[v2] hero.psd", "trail.png "}

	f := newFixture(t, "", nil)
	for _, n := range names {
		f.write(t, n, "bytes of "+n)
	}

	_, err := f.engine.Submit(context.Background())
	require.NoError(t, err)

	m, err := manifest.Load(f.fs, manifestPath)
	require.NoError(t, err)
	for _, n := range names {
		d, ok := m.Lookup(n)
		assert.True(t, ok, n)
		assert.Equal(t, digest.FromBytes([]byte("bytes of "+n)), d)
	}

	for _, st := range f.status(t) {
		assert.Equal(t, diff.Unmodified, st)
	}
}

func TestSubmitUploadsObjectsOnlyInCache(t *testing.T) {
	f := newFixture(t, "", nil)
	f.write(t, "dogs/rex.png", "rex bytes")

	// The object was fetched from some other remote into the shared cache.
	cache := newMemStore()
	rex := cache.add("rex bytes")
	f.engine = New(Config{
		ManifestPath: manifestPath,
		Store:        store.Verified(store.Tiered(cache, f.store, nil)),
		Fs:           f.fs,
		Workers:      4,
	})

	res, err := f.engine.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs/rex.png"}, res.Uploaded)
	assert.True(t, f.store.has(rex), "remote holds every object the manifest references")
	assert.Contains(t, f.manifestBytes(t), "dogs/rex.png = "+rex.String())
}

func TestStatusReportsMissingObjectDespiteCache(t *testing.T) {
	cache := newMemStore()
	milo := cache.add("milo bytes")

	f := newFixture(t, "", map[string]digest.Digest{"cats/milo.jpg": milo})
	f.engine = New(Config{
		ManifestPath: manifestPath,
		Store:        store.Verified(store.Tiered(cache, f.store, nil)),
		Fs:           f.fs,
	})

	assert.Equal(t, map[string]diff.Status{"cats/milo.jpg": diff.RemoteMissing}, f.status(t))
}

func TestAccessErrorsAbortChangingOperations(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs := afero.NewOsFs()
	st := newMemStore()

	milo := st.add("milo bytes")
	rex := st.add("rex bytes")
	head := map[string]digest.Digest{"cats/milo.jpg": milo, "dogs/rex.png": rex}

	manifestFile := filepath.Join(dir, "CHONKY")
	m := manifest.New([]manifest.KeyValue{{Key: manifest.KeyType, Value: "local"}}, head)
	require.NoError(t, manifest.Persist(fs, manifestFile, m))
	require.NoError(t, manifest.Persist(fs, manifest.BasePath(dir), manifest.NewBase(head)))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cats"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dogs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dogs", "rex.png"), []byte("rex edited"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elsewhere.jpg"), []byte("milo bytes"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "elsewhere.jpg"), filepath.Join(dir, "cats", "milo.jpg")))

	before, err := os.ReadFile(manifestFile)
	require.NoError(t, err)

	e := New(Config{ManifestPath: manifestFile, Store: st, Fs: fs})

	report, err := e.Status(ctx)
	require.NoError(t, err, "status reports access errors instead of failing")
	broken := report.Filter(diff.AccessError)
	require.Len(t, broken, 1)
	assert.Equal(t, "cats/milo.jpg", broken[0].Path)
	assert.ErrorIs(t, broken[0].Err, workspace.ErrAccess)

	_, err = e.Sync(ctx, false)
	assert.ErrorIs(t, err, workspace.ErrAccess)
	_, err = e.Submit(ctx)
	assert.ErrorIs(t, err, workspace.ErrAccess)
	_, err = e.Revert(ctx)
	assert.ErrorIs(t, err, workspace.ErrAccess)

	after, err := os.ReadFile(manifestFile)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	edited, err := os.ReadFile(filepath.Join(dir, "dogs", "rex.png"))
	require.NoError(t, err)
	assert.Equal(t, "rex edited", string(edited), "revert stopped before touching other files")
	assert.Equal(t, 0, st.puts)
}

// renameFailFs fails every rename onto one target path.
type renameFailFs struct {
	afero.Fs
	target string
}

func (r *renameFailFs) Rename(oldname, newname string) error {
	if newname == r.target {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("device busy")}
	}
	return r.Fs.Rename(oldname, newname)
}

func TestSyncInterruptedCommitHealsOnNextRun(t *testing.T) {
	milo := digest.FromBytes([]byte("milo bytes"))
	rex := digest.FromBytes([]byte("rex bytes"))
	head := map[string]digest.Digest{"cats/milo.jpg": milo, "dogs/rex.png": rex}

	f := newFixture(t, "", head)
	f.store.add("milo bytes")
	f.store.add("rex bytes")

	broken := &renameFailFs{Fs: f.fs, target: "/proj/dogs/rex.png"}
	e := New(Config{ManifestPath: manifestPath, Store: f.store, Fs: broken, Workers: 4})

	_, err := e.Sync(context.Background(), false)
	require.Error(t, err)
	assert.False(t, f.exists(t, "dogs/rex.png"))
	assert.Empty(t, f.base(t), "base record is only written after every file is in place")

	res, err := f.engine.Sync(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, res.Fetched, "dogs/rex.png")
	assert.Equal(t, "milo bytes", f.read(t, "cats/milo.jpg"))
	assert.Equal(t, "rex bytes", f.read(t, "dogs/rex.png"))
	assert.Equal(t, head, f.base(t))
	assert.Equal(t, map[string]diff.Status{
		"cats/milo.jpg": diff.Unmodified,
		"dogs/rex.png":  diff.Unmodified,
	}, f.status(t))
	assert.Empty(t, f.leftovers(t))
}
