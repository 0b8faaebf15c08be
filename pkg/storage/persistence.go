package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

func (db *Database) manifestPath() string {
	return filepath.Join(db.root, ManifestFile)
}

func (db *Database) collectionPath(name string) string {
	return filepath.Join(db.root, CollectionsDir, name+FileExtension)
}

// load prepares the root directory. A root without a manifest gets a fresh
// empty one; otherwise every listed collection with a snapshot on disk is
// loaded. Listed collections whose file is missing are skipped.
func (db *Database) load() error {
	if err := os.MkdirAll(db.root, 0755); err != nil {
		return fmt.Errorf("%w: failed to create root directory: %v", domain.ErrIO, err)
	}

	data, err := os.ReadFile(db.manifestPath())
	if errors.Is(err, os.ErrNotExist) {
		db.logger.Infow("Initializing new database", "root", db.root)
		return db.writeManifest(&Manifest{SavedAt: epochMillis(db.now()), Collections: []string{}})
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read manifest: %v", domain.ErrIO, err)
	}

	manifest, err := readManifest(data)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, name := range manifest.Collections {
		if _, exists := db.collections[name]; exists {
			continue
		}
		if err := validateCollectionName(name); err != nil {
			return fmt.Errorf("%w: manifest lists %v", domain.ErrIO, err)
		}
		collection, err := db.loadCollection(name)
		if err != nil {
			return err
		}
		if collection == nil {
			db.logger.Warnw("Collection listed in manifest has no snapshot, skipping", "collection", name)
			continue
		}
		db.registerLocked(collection)
		db.logger.Infow("Loaded collection", "collection", name, "documents", collection.Len())
	}
	return nil
}

// loadCollection reads one snapshot file. It returns nil without error when
// the file does not exist.
func (db *Database) loadCollection(name string) (*Collection, error) {
	data, err := os.ReadFile(db.collectionPath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read collection %s: %v", domain.ErrIO, name, err)
	}

	payload, err := unwrapPayload(data)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", domain.ErrIO, name, err)
	}
	store, err := DecodeCollectionStore(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", domain.ErrIO, name, err)
	}
	if store.Name != name {
		return nil, fmt.Errorf("%w: snapshot %s holds collection %q", domain.ErrIO, db.collectionPath(name), store.Name)
	}
	return fromStore(store, db.now)
}

func readManifest(data []byte) (*Manifest, error) {
	payload, err := unwrapPayload(data)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", domain.ErrIO, err)
	}
	manifest, err := DecodeManifest(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", domain.ErrIO, err)
	}
	return manifest, nil
}

// saveAll writes every registered collection, then rewrites the manifest.
// A failing collection does not stop the others; all failures are returned
// together. The caller must hold saveMu.
func (db *Database) saveAll(ctx context.Context) error {
	start := time.Now()

	db.mu.RLock()
	names := make([]string, len(db.order))
	copy(names, db.order)
	collections := make([]*Collection, len(names))
	for i, name := range names {
		collections[i] = db.collections[name]
	}
	db.mu.RUnlock()

	var (
		errMu    sync.Mutex
		saveErr  error
		savedCnt int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(db.saveConcurrency)
	for _, collection := range collections {
		collection := collection
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errMu.Lock()
				multierr.AppendInto(&saveErr, fmt.Errorf("save collection %s: %w", collection.Name(), err))
				errMu.Unlock()
				return nil
			}
			err := db.saveCollection(collection)
			errMu.Lock()
			defer errMu.Unlock()
			if err != nil {
				db.logger.Errorw("Failed to save collection", "collection", collection.Name(), "error", err)
				multierr.AppendInto(&saveErr, err)
			} else {
				savedCnt++
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return multierr.Append(saveErr, err)
	}

	manifest := &Manifest{SavedAt: epochMillis(db.now()), Collections: names}
	if err := db.writeManifest(manifest); err != nil {
		multierr.AppendInto(&saveErr, err)
	}

	elapsed := time.Since(start)
	if saveErr != nil {
		db.logger.Warnw("Save completed with errors",
			"saved", savedCnt, "errors", len(multierr.Errors(saveErr)), "elapsed", elapsed)
	} else {
		db.logger.Debugw("Save completed", "saved", savedCnt, "elapsed", elapsed)
	}
	return saveErr
}

func (db *Database) saveCollection(collection *Collection) error {
	payload, err := EncodeCollectionStore(collection.Serialize())
	if err != nil {
		return fmt.Errorf("%w: collection %s: %v", domain.ErrIO, collection.Name(), err)
	}
	data, err := wrapPayload(payload, db.compression)
	if err != nil {
		return fmt.Errorf("%w: collection %s: %v", domain.ErrIO, collection.Name(), err)
	}
	if err := writeFileAtomic(db.collectionPath(collection.Name()), data); err != nil {
		return fmt.Errorf("%w: collection %s: %v", domain.ErrIO, collection.Name(), err)
	}
	return nil
}

func (db *Database) writeManifest(manifest *Manifest) error {
	payload, err := EncodeManifest(manifest)
	if err != nil {
		return fmt.Errorf("%w: manifest: %v", domain.ErrIO, err)
	}
	data, err := wrapPayload(payload, db.compression)
	if err != nil {
		return fmt.Errorf("%w: manifest: %v", domain.ErrIO, err)
	}
	if err := writeFileAtomic(db.manifestPath(), data); err != nil {
		return fmt.Errorf("%w: manifest: %v", domain.ErrIO, err)
	}
	return nil
}

// writeFileAtomic writes data to a temporary file next to filename and
// renames it into place, so readers never observe a partial snapshot.
func writeFileAtomic(filename string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := filename + ".tmp"
	file, err := os.OpenFile(tempFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile) // Clean up temp file
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
