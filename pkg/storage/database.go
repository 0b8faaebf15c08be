package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// Database owns a root directory and the collections persisted inside it.
//
// Layout:
//
//	<root>/.manifest
//	<root>/collections/<name>.collection
type Database struct {
	mu          sync.RWMutex
	root        string
	collections map[string]*Collection
	order       []string // registration order, persisted in the manifest
	closed      bool

	// saveMu serializes save cycles
	saveMu sync.Mutex

	// Configuration
	saveInterval    time.Duration
	autosave        bool
	compression     Compression
	saveConcurrency int
	logger          *zap.SugaredLogger
	ownsLogger      bool // logger was built by Open and is synced on Close
	onSaveError     func(error)
	now             func() time.Time

	// Background workers
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	closeOnce    sync.Once
}

// Open opens the database rooted at root, creating it if needed, loads every
// collection listed in its manifest and starts the autosave worker.
func Open(root string, options ...Option) (*Database, error) {
	db := &Database{
		collections:     make(map[string]*Collection),
		saveInterval:    DefaultSaveInterval,
		autosave:        true,
		compression:     CompressionNone,
		saveConcurrency: 4,
		now:             time.Now,
		stopChan:        make(chan struct{}),
	}

	for _, option := range options {
		option(db)
	}

	if db.logger == nil {
		db.logger = defaultLogger()
		db.ownsLogger = true
	}

	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("%w: root %q must be an absolute path", domain.ErrInvalidArgument, root)
	}
	if db.saveInterval <= 0 {
		return nil, fmt.Errorf("%w: save interval must be positive, got %v", domain.ErrInvalidArgument, db.saveInterval)
	}
	if db.saveConcurrency <= 0 {
		db.saveConcurrency = 1
	}
	db.root = filepath.Clean(root)

	if err := db.load(); err != nil {
		return nil, err
	}

	db.StartBackgroundWorkers()
	return db, nil
}

func defaultLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Root returns the database root directory
func (db *Database) Root() string {
	return db.root
}

// SaveInterval returns the autosave period
func (db *Database) SaveInterval() time.Duration {
	return db.saveInterval
}

// Collection returns the collection registered under name, creating and
// registering an empty one if it does not exist yet. The returned collection
// is live: changes made through it are picked up by the next save.
// It returns ErrClosed once the database has been closed.
func (db *Database) Collection(name string) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	db.mu.RLock()
	collection, exists := db.collections[name]
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return nil, domain.ErrClosed
	}
	if exists {
		return collection, nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, domain.ErrClosed
	}
	// Double-check in case another goroutine created it
	if collection, exists := db.collections[name]; exists {
		return collection, nil
	}
	collection = newCollection(name, db.now)
	db.registerLocked(collection)
	db.logger.Debugw("Created collection", "collection", name)
	return collection, nil
}

// Collections returns the registered collection names in registration order.
func (db *Database) Collections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, len(db.order))
	copy(names, db.order)
	return names
}

// Save writes every collection and then the manifest. It blocks until any
// save already in progress has finished.
func (db *Database) Save(ctx context.Context) error {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return domain.ErrClosed
	}

	db.saveMu.Lock()
	defer db.saveMu.Unlock()
	return db.saveAll(ctx)
}

// Close stops the autosave worker and writes a final snapshot of every
// collection. Calling Close more than once is a no-op.
func (db *Database) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.mu.Lock()
		db.closed = true
		db.mu.Unlock()

		db.StopBackgroundWorkers()

		db.saveMu.Lock()
		defer db.saveMu.Unlock()
		if err = db.saveAll(context.Background()); err != nil {
			db.logger.Errorw("Final save failed", "root", db.root, "error", err)
		} else {
			db.logger.Infow("Database closed", "root", db.root)
		}
		if db.ownsLogger {
			_ = db.logger.Sync()
		}
	})
	return err
}

func (db *Database) registerLocked(collection *Collection) {
	db.collections[collection.Name()] = collection
	db.order = append(db.order, collection.Name())
}

// validateCollectionName rejects names that cannot be used as a file name
// inside the collections directory.
func validateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", domain.ErrInvalidArgument)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: invalid collection name %q", domain.ErrInvalidArgument, name)
	}
	return nil
}
