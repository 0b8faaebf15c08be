package domain

// DocumentStore is the set of operations a collection exposes to callers.
type DocumentStore interface {
	Name() string
	Len() int
	Insert(docs ...Document) error
	InsertAll(docs ...Document) error
	Get(key string) (Document, bool)
	Remove(key string) bool
	RemoveDocument(doc Document) bool
	Find(filter map[string]interface{}) []Document
	FindWithOptions(filter map[string]interface{}, options *FindOptions) ([]Document, error)
	FindOne(filter map[string]interface{}) (Document, bool)
	Replace(key string, doc Document) error
	ReplaceDocument(handle Document, doc Document) error
	Update(filter map[string]interface{}, patch Document) (int, error)
	UpdateOne(key string, patch Document) error
	UpdateOneDocument(handle Document, patch Document) error
	Iter() []Document
}
