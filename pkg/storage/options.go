package storage

import (
	"time"

	"go.uber.org/zap"
)

// DefaultSaveInterval is the autosave period used when none is configured.
const DefaultSaveInterval = 30 * time.Second

type Option func(*Database)

// WithSaveInterval sets how often the autosave worker writes every collection.
func WithSaveInterval(interval time.Duration) Option {
	return func(db *Database) {
		db.saveInterval = interval
	}
}

// WithAutosave enables or disables the autosave worker (default: enabled).
// With autosave disabled data is only written by Save and Close.
func WithAutosave(enabled bool) Option {
	return func(db *Database) {
		db.autosave = enabled
	}
}

// WithCompression wraps snapshot files in a compressed, checksummed envelope.
func WithCompression(c Compression) Option {
	return func(db *Database) {
		db.compression = c
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// WithSaveErrorHandler registers a callback receiving the error of every
// failed autosave tick.
func WithSaveErrorHandler(fn func(error)) Option {
	return func(db *Database) {
		db.onSaveError = fn
	}
}

// WithSaveConcurrency limits how many collection files are written at once.
func WithSaveConcurrency(n int) Option {
	return func(db *Database) {
		db.saveConcurrency = n
	}
}

// WithClock overrides the time source used for savedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(db *Database) {
		if now != nil {
			db.now = now
		}
	}
}
