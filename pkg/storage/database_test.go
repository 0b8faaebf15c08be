package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)).Sugar()
}

// openTestDB opens a database without autosave and closes it when the test ends.
func openTestDB(t *testing.T, root string, opts ...Option) *Database {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger(t)), WithAutosave(false)}, opts...)
	db, err := Open(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func readManifestFile(t *testing.T, root string) *Manifest {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	require.NoError(t, err)
	manifest, err := readManifest(data)
	require.NoError(t, err)
	return manifest
}

func readStoreFile(t *testing.T, root, name string) *CollectionStore {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, CollectionsDir, name+FileExtension))
	require.NoError(t, err)
	payload, err := unwrapPayload(data)
	require.NoError(t, err)
	store, err := DecodeCollectionStore(payload)
	require.NoError(t, err)
	return store
}

func TestOpen_RejectsRelativeRoot(t *testing.T) {
	for _, root := range []string{"data", "./data", "../data", ""} {
		_, err := Open(root, WithLogger(testLogger(t)))
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "root %q", root)
	}
	_, statErr := os.Stat("data")
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_RejectsNonPositiveInterval(t *testing.T) {
	_, err := Open(t.TempDir(), WithLogger(testLogger(t)), WithSaveInterval(0))
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument))
}

func TestOpen_FreshRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "app")
	now := time.UnixMilli(1700000000000)
	db := openTestDB(t, root, WithClock(func() time.Time { return now }))

	assert.Equal(t, root, db.Root())
	assert.Equal(t, DefaultSaveInterval, db.SaveInterval())
	assert.Empty(t, db.Collections())

	manifest := readManifestFile(t, root)
	assert.Equal(t, uint64(1700000000000), manifest.SavedAt)
	assert.Empty(t, manifest.Collections)
}

func TestDatabase_CollectionIsIdempotent(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	users, err := db.Collection("users")
	require.NoError(t, err)
	again, err := db.Collection("users")
	require.NoError(t, err)
	assert.Same(t, users, again)

	_, err = db.Collection("posts")
	require.NoError(t, err)
	assert.Equal(t, []string{"users", "posts"}, db.Collections())
}

func TestDatabase_CollectionRejectsInvalidNames(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		_, err := db.Collection(name)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "name %q", name)
	}
	assert.Empty(t, db.Collections())
}

func TestDatabase_SaveAndReload(t *testing.T) {
	root := t.TempDir()

	db := openTestDB(t, root)
	users, err := db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, users.Insert(domain.Document{"_key": "a", "n": 1}))
	require.NoError(t, db.Save(context.Background()))
	require.NoError(t, db.Close())

	reopened := openTestDB(t, root)
	users, err = reopened.Collection("users")
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{"_key": "a", "n": int64(1)}}, users.Find(map[string]interface{}{}))
	assert.Len(t, users.Find(map[string]interface{}{"n": 1}), 1)
}

func TestDatabase_ReloadPreservesOrder(t *testing.T) {
	root := t.TempDir()

	db := openTestDB(t, root)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		c, err := db.Collection(name)
		require.NoError(t, err)
		for _, key := range []string{"3", "1", "2"} {
			require.NoError(t, c.Insert(domain.Document{"_key": key, "in": name}))
		}
	}
	require.NoError(t, db.Close())

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, readManifestFile(t, root).Collections)

	reopened := openTestDB(t, root)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, reopened.Collections())
	mid, err := reopened.Collection("mid")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "1", "2"}, keys(mid.Iter()))
}

func TestDatabase_EmptyCollectionIsPersisted(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t, root)

	_, err := db.Collection("empty")
	require.NoError(t, err)
	require.NoError(t, db.Save(context.Background()))

	assert.Equal(t, []string{"empty"}, readManifestFile(t, root).Collections)
	store := readStoreFile(t, root, "empty")
	assert.Equal(t, "empty", store.Name)
	assert.Empty(t, store.Data)
}

func TestDatabase_MissingCollectionFileIsSkipped(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t, root)
	users, err := db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, users.Insert(domain.Document{"_key": "a"}))
	require.NoError(t, db.Close())

	// Point the manifest at a collection that was never written
	data, err := EncodeManifest(&Manifest{SavedAt: 1, Collections: []string{"ghost", "users"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFile), data, 0644))

	reopened := openTestDB(t, root)
	assert.Equal(t, []string{"users"}, reopened.Collections())

	ghost, err := reopened.Collection("ghost")
	require.NoError(t, err)
	assert.Equal(t, 0, ghost.Len())
	assert.Equal(t, []string{"users", "ghost"}, reopened.Collections())
}

func TestOpen_CorruptFiles(t *testing.T) {
	t.Run("manifest", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, ManifestFile), []byte("garbage"), 0644))

		_, err := Open(root, WithLogger(testLogger(t)))
		assert.True(t, errors.Is(err, domain.ErrIO))
	})

	t.Run("collection", func(t *testing.T) {
		root := t.TempDir()
		db := openTestDB(t, root)
		_, err := db.Collection("users")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		path := filepath.Join(root, CollectionsDir, "users"+FileExtension)
		require.NoError(t, os.WriteFile(path, []byte{0xc1}, 0644))

		_, err = Open(root, WithLogger(testLogger(t)))
		assert.True(t, errors.Is(err, domain.ErrIO))
	})

	t.Run("collection name mismatch", func(t *testing.T) {
		root := t.TempDir()
		db := openTestDB(t, root)
		_, err := db.Collection("users")
		require.NoError(t, err)
		require.NoError(t, db.Close())

		data, err := EncodeCollectionStore(&CollectionStore{Name: "other", Data: []domain.Document{}})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, CollectionsDir, "users"+FileExtension), data, 0644))

		_, err = Open(root, WithLogger(testLogger(t)))
		assert.True(t, errors.Is(err, domain.ErrIO))
	})
}

func TestDatabase_Compression(t *testing.T) {
	for _, codec := range []Compression{CompressionLZ4, CompressionZstd, CompressionSnappy} {
		t.Run(codec.String(), func(t *testing.T) {
			root := t.TempDir()
			db := openTestDB(t, root, WithCompression(codec))
			c, err := db.Collection("docs")
			require.NoError(t, err)
			for i := 0; i < 100; i++ {
				require.NoError(t, c.Insert(domain.Document{"_key": fmt.Sprintf("doc-%03d", i), "body": "lorem ipsum dolor sit amet"}))
			}
			require.NoError(t, db.Close())

			raw, err := os.ReadFile(filepath.Join(root, CollectionsDir, "docs"+FileExtension))
			require.NoError(t, err)
			assert.True(t, hasEnvelope(raw))

			// Envelopes are detected on read, whatever the current setting
			reopened := openTestDB(t, root)
			c, err = reopened.Collection("docs")
			require.NoError(t, err)
			assert.Equal(t, 100, c.Len())
		})
	}
}

func TestDatabase_AutosaveWritesSnapshots(t *testing.T) {
	root := t.TempDir()
	db, err := Open(root, WithLogger(testLogger(t)), WithSaveInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	users, err := db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, users.Insert(domain.Document{"_key": "a", "n": 1}))

	path := filepath.Join(root, CollectionsDir, "users"+FileExtension)
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(root, ManifestFile))
		if err != nil {
			return false
		}
		manifest, err := readManifest(data)
		return err == nil && len(manifest.Collections) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a"}, keys(readStoreFile(t, root, "users").Data))
}

func TestDatabase_AutosaveReportsErrorsAndKeepsRunning(t *testing.T) {
	root := t.TempDir()
	// A regular file where the collections directory should be
	require.NoError(t, os.WriteFile(filepath.Join(root, CollectionsDir), []byte("x"), 0644))

	errCh := make(chan error, 16)
	db, err := Open(root,
		WithLogger(zap.NewNop().Sugar()),
		WithSaveInterval(10*time.Millisecond),
		WithSaveErrorHandler(func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Collection("users")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			assert.True(t, errors.Is(err, domain.ErrIO))
		case <-time.After(2 * time.Second):
			t.Fatal("expected autosave error")
		}
	}
}

func TestDatabase_CloseSavesAndIsIdempotent(t *testing.T) {
	root := t.TempDir()
	db, err := Open(root, WithLogger(testLogger(t)), WithAutosave(false))
	require.NoError(t, err)

	c, err := db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, c.Insert(domain.Document{"_key": "a"}))

	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
	assert.True(t, errors.Is(db.Save(context.Background()), domain.ErrClosed))

	assert.Equal(t, []string{"users"}, readManifestFile(t, root).Collections)
	assert.Equal(t, []string{"a"}, keys(readStoreFile(t, root, "users").Data))
}

func TestDatabase_SaveHonoursCancelledContext(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t, root)
	_, err := db.Collection("users")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = db.Save(ctx)
	assert.True(t, errors.Is(err, context.Canceled))

	// The manifest still describes the empty fresh root
	assert.Empty(t, readManifestFile(t, root).Collections)
}

func TestDatabase_SaveWhileMutating(t *testing.T) {
	root := t.TempDir()
	db := openTestDB(t, root, WithSaveConcurrency(2))

	names := []string{"a", "b", "c"}
	for _, name := range names {
		_, err := db.Collection(name)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			c, err := db.Collection(name)
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < 200; i++ {
				assert.NoError(t, c.Insert(domain.Document{"_key": fmt.Sprint(i), "v": i}))
			}
		}(name)
	}
	for i := 0; i < 5; i++ {
		assert.NoError(t, db.Save(context.Background()))
	}
	wg.Wait()
	require.NoError(t, db.Save(context.Background()))

	for _, name := range names {
		assert.Len(t, readStoreFile(t, root, name).Data, 200)
	}
}

func TestDatabase_AutosaveSkipsTicksWhileSaveRunning(t *testing.T) {
	root := t.TempDir()
	errCh := make(chan error, 16)
	db, err := Open(root,
		WithLogger(testLogger(t)),
		WithSaveInterval(10*time.Millisecond),
		WithSaveErrorHandler(func(err error) { errCh <- err }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// Stand in for a save that outlasts several intervals
	db.saveMu.Lock()
	users, err := db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, users.Insert(domain.Document{"_key": "a"}))

	time.Sleep(80 * time.Millisecond)
	path := filepath.Join(root, CollectionsDir, "users"+FileExtension)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, errCh)
	db.saveMu.Unlock()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, errCh)
}

func populate(t *testing.T, db *Database, collections, docs int) []string {
	t.Helper()
	names := make([]string, collections)
	for i := range names {
		names[i] = fmt.Sprintf("c%02d", i)
		c, err := db.Collection(names[i])
		require.NoError(t, err)
		for j := 0; j < docs; j++ {
			require.NoError(t, c.Insert(domain.Document{"_key": fmt.Sprint(j), "v": j}))
		}
	}
	return names
}

func assertCompleteSnapshot(t *testing.T, root string, names []string, docs int) {
	t.Helper()
	assert.Equal(t, names, readManifestFile(t, root).Collections)
	for _, name := range names {
		assert.Len(t, readStoreFile(t, root, name).Data, docs, name)
	}
}

func TestDatabase_TickAfterShutdownIsNotAnError(t *testing.T) {
	root := t.TempDir()
	var errs []error
	var errMu sync.Mutex
	db, err := Open(root,
		WithLogger(testLogger(t)),
		WithAutosave(false),
		WithSaveConcurrency(1),
		WithSaveErrorHandler(func(err error) {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}),
	)
	require.NoError(t, err)
	names := populate(t, db, 20, 50)

	db.StopBackgroundWorkers()
	db.autosaveTick()
	require.NoError(t, db.Close())

	errMu.Lock()
	assert.Empty(t, errs)
	errMu.Unlock()
	assertCompleteSnapshot(t, root, names, 50)
}

func TestDatabase_CloseDuringAutosave(t *testing.T) {
	root := t.TempDir()
	var errs []error
	var errMu sync.Mutex
	db, err := Open(root,
		WithLogger(testLogger(t)),
		WithSaveInterval(time.Millisecond),
		WithSaveConcurrency(1),
		WithSaveErrorHandler(func(err error) {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}),
	)
	require.NoError(t, err)
	names := populate(t, db, 30, 100)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, db.Close())

	errMu.Lock()
	assert.Empty(t, errs)
	errMu.Unlock()
	assertCompleteSnapshot(t, root, names, 100)
}

func TestDatabase_CollectionAfterClose(t *testing.T) {
	db, err := Open(t.TempDir(), WithLogger(testLogger(t)), WithAutosave(false))
	require.NoError(t, err)
	_, err = db.Collection("users")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Collection("users")
	assert.True(t, errors.Is(err, domain.ErrClosed))
	_, err = db.Collection("orders")
	assert.True(t, errors.Is(err, domain.ErrClosed))
}

func TestOpen_DefaultLoggerIsOwned(t *testing.T) {
	db, err := Open(t.TempDir(), WithAutosave(false))
	require.NoError(t, err)
	assert.True(t, db.ownsLogger)
	assert.NoError(t, db.Close())

	db, err = Open(t.TempDir(), WithLogger(testLogger(t)), WithAutosave(false))
	require.NoError(t, err)
	assert.False(t, db.ownsLogger)
	assert.NoError(t, db.Close())
}
