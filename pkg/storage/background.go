package storage

import (
	"context"
	"errors"
	"time"
)

// StartBackgroundWorkers starts the autosave worker. It is called by Open.
func (db *Database) StartBackgroundWorkers() {
	if !db.autosave {
		return
	}

	db.backgroundWg.Add(1)
	go func() {
		defer db.backgroundWg.Done()
		ticker := time.NewTicker(db.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				db.autosaveTick()
			case <-db.stopChan:
				return
			}
		}
	}()
}

// StopBackgroundWorkers stops background workers and waits for a running
// save to finish.
func (db *Database) StopBackgroundWorkers() {
	select {
	case <-db.stopChan:
		// Channel already closed, do nothing
	default:
		close(db.stopChan)
	}
	db.backgroundWg.Wait()
}

// autosaveTick runs one save cycle unless another one is still in progress.
func (db *Database) autosaveTick() {
	if !db.saveMu.TryLock() {
		db.logger.Debugw("Previous save still running, skipping autosave tick", "root", db.root)
		return
	}
	defer db.saveMu.Unlock()

	// Abort the cycle between collections when the database is being closed;
	// Close writes a final snapshot itself.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-db.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := db.saveAll(ctx); err != nil {
		if errors.Is(err, context.Canceled) && db.stopping() {
			db.logger.Debugw("Autosave interrupted by shutdown", "root", db.root)
			return
		}
		db.logger.Errorw("Autosave failed", "root", db.root, "error", err)
		if db.onSaveError != nil {
			db.onSaveError(err)
		}
	}
}

func (db *Database) stopping() bool {
	select {
	case <-db.stopChan:
		return true
	default:
		return false
	}
}
