package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

var _ domain.DocumentStore = (*Collection)(nil)

// Collection is a named, insertion-ordered set of documents keyed by their
// identifier field. It is safe for concurrent use.
//
// Documents are copied on the way in and on the way out, so callers never
// hold references into the stored state and the background saver can
// snapshot a collection while it is being modified.
type Collection struct {
	mu   sync.RWMutex
	name string
	docs *documentList
	now  func() time.Time
}

// NewCollection creates a new empty collection
func NewCollection(name string) *Collection {
	return newCollection(name, time.Now)
}

func newCollection(name string, now func() time.Time) *Collection {
	return &Collection{
		name: name,
		docs: newDocumentList(),
		now:  now,
	}
}

// FromStore rebuilds a collection from its snapshot. Iteration order follows
// the order of store.Data. The documents are copied, so store can be reused
// by the caller.
func FromStore(store *CollectionStore) (*Collection, error) {
	if store != nil {
		data := make([]domain.Document, len(store.Data))
		for i, doc := range store.Data {
			data[i] = doc.Clone()
		}
		store = &CollectionStore{Name: store.Name, Data: data, SavedAt: store.SavedAt}
	}
	return fromStore(store, time.Now)
}

// fromStore takes ownership of the documents in store.
func fromStore(store *CollectionStore, now func() time.Time) (*Collection, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil collection store", domain.ErrIO)
	}
	collection := newCollection(store.Name, now)
	for i, doc := range store.Data {
		key, ok := doc.Key()
		if !ok {
			return nil, fmt.Errorf("%w: collection %s: document %d has no %q field",
				domain.ErrIO, store.Name, i, domain.KeyField)
		}
		if collection.docs.Contains(key) {
			return nil, fmt.Errorf("%w: collection %s: duplicate key %q in snapshot",
				domain.ErrIO, store.Name, key)
		}
		collection.docs.PushBack(key, domain.NormalizeDocument(doc))
	}
	return collection, nil
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// Len returns the number of stored documents
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.docs.Len()
}

// Insert adds documents in order. It stops at the first document that is
// invalid or whose key already exists; documents inserted before that point
// by the same call stay in the collection.
func (c *Collection) Insert(docs ...domain.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, doc := range docs {
		if err := domain.ValidateDocument(doc); err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		key, _ := doc.Key()
		if c.docs.Contains(key) {
			return c.keyError("insert", key, domain.ErrDuplicateKey)
		}
		c.docs.PushBack(key, doc.Clone())
	}
	return nil
}

// InsertAll adds documents only if every one of them can be inserted.
// Keys are checked against the collection and against each other before
// anything is stored.
func (c *Collection) InsertAll(docs ...domain.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if err := domain.ValidateDocument(doc); err != nil {
			return fmt.Errorf("insert into %s: %w", c.name, err)
		}
		key, _ := doc.Key()
		if _, dup := seen[key]; dup || c.docs.Contains(key) {
			return c.keyError("insert", key, domain.ErrDuplicateKey)
		}
		seen[key] = struct{}{}
	}

	for _, doc := range docs {
		key, _ := doc.Key()
		c.docs.PushBack(key, doc.Clone())
	}
	return nil
}

// Get returns a copy of the document stored under key
func (c *Collection) Get(key string) (domain.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	doc, exists := c.docs.Get(key)
	if !exists {
		return nil, false
	}
	return doc.Clone(), true
}

// Remove deletes the document stored under key and reports whether it existed.
func (c *Collection) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.docs.Remove(key)
}

// RemoveDocument removes the document with the same identifier as doc.
func (c *Collection) RemoveDocument(doc domain.Document) bool {
	key, ok := doc.Key()
	if !ok {
		return false
	}
	return c.Remove(key)
}

// Find returns every document matching filter in iteration order.
// A nil or empty filter matches all documents.
func (c *Collection) Find(filter map[string]interface{}) []domain.Document {
	docs, _ := c.FindWithOptions(filter, nil)
	return docs
}

// FindWithOptions is Find with an offset and a limit applied to the matches.
// The scan stops as soon as the limit is reached.
func (c *Collection) FindWithOptions(filter map[string]interface{}, options *domain.FindOptions) ([]domain.Document, error) {
	if options == nil {
		options = &domain.FindOptions{}
	}
	if err := options.Validate(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", c.name, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	results := []domain.Document{}
	skipped := 0
	c.docs.Each(func(_ string, doc domain.Document) bool {
		if !MatchesFilter(doc, filter) {
			return true
		}
		if skipped < options.Offset {
			skipped++
			return true
		}
		results = append(results, doc.Clone())
		return options.Limit == 0 || len(results) < options.Limit
	})
	return results, nil
}

// FindOne returns the first document matching filter.
func (c *Collection) FindOne(filter map[string]interface{}) (domain.Document, bool) {
	docs, _ := c.FindWithOptions(filter, &domain.FindOptions{Limit: 1})
	if len(docs) == 0 {
		return nil, false
	}
	return docs[0], true
}

// Replace swaps the document stored under key for doc, keeping its position.
func (c *Collection) Replace(key string, doc domain.Document) error {
	if err := domain.ValidateDocument(doc); err != nil {
		return fmt.Errorf("replace in %s: %w", c.name, err)
	}
	if docKey, _ := doc.Key(); docKey != key {
		return c.keyError("replace", key, fmt.Errorf("%w: document key is %q", domain.ErrKeyMismatch, docKey))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.docs.Set(key, doc.Clone()) {
		return c.keyError("replace", key, domain.ErrNotFound)
	}
	return nil
}

// ReplaceDocument is Replace using the identifier of handle.
func (c *Collection) ReplaceDocument(handle domain.Document, doc domain.Document) error {
	key, ok := handle.Key()
	if !ok {
		return fmt.Errorf("replace in %s: %w: handle has no %q field", c.name, domain.ErrInvalidArgument, domain.KeyField)
	}
	return c.Replace(key, doc)
}

// Update merges patch into every document matching filter and returns the
// number of documents changed. The identifier field of patch is ignored.
func (c *Collection) Update(filter map[string]interface{}, patch domain.Document) (int, error) {
	if err := domain.ValidatePatch(patch); err != nil {
		return 0, fmt.Errorf("update in %s: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	updated := 0
	c.docs.Each(func(_ string, doc domain.Document) bool {
		if MatchesFilter(doc, filter) {
			doc.Merge(patch)
			updated++
		}
		return true
	})
	return updated, nil
}

// UpdateOne merges patch into the document stored under key.
func (c *Collection) UpdateOne(key string, patch domain.Document) error {
	if err := domain.ValidatePatch(patch); err != nil {
		return fmt.Errorf("update in %s: %w", c.name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc, exists := c.docs.Get(key)
	if !exists {
		return c.keyError("update", key, domain.ErrNotFound)
	}
	doc.Merge(patch)
	return nil
}

// UpdateOneDocument is UpdateOne using the identifier of handle.
func (c *Collection) UpdateOneDocument(handle domain.Document, patch domain.Document) error {
	key, ok := handle.Key()
	if !ok {
		return fmt.Errorf("update in %s: %w: handle has no %q field", c.name, domain.ErrInvalidArgument, domain.KeyField)
	}
	return c.UpdateOne(key, patch)
}

// Iter returns a copy of every document in iteration order. Later changes
// to the collection are not reflected in the returned slice.
func (c *Collection) Iter() []domain.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Serialize captures the collection as a snapshot stamped with the current time.
func (c *Collection) Serialize() *CollectionStore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &CollectionStore{
		Name:    c.name,
		Data:    c.snapshotLocked(),
		SavedAt: epochMillis(c.now()),
	}
}

func (c *Collection) snapshotLocked() []domain.Document {
	docs := make([]domain.Document, 0, c.docs.Len())
	c.docs.Each(func(_ string, doc domain.Document) bool {
		docs = append(docs, doc.Clone())
		return true
	})
	return docs
}

func (c *Collection) keyError(op, key string, err error) error {
	return &domain.KeyError{Op: op, Collection: c.name, Key: key, Err: err}
}
