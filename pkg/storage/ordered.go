package storage

import (
	"container/list"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// documentList is an insertion-ordered map of documents keyed by identifier.
// The list holds iteration order; the index gives O(1) lookup and removal.
type documentList struct {
	list  *list.List
	index map[string]*list.Element
}

type documentEntry struct {
	key string
	doc domain.Document
}

func newDocumentList() *documentList {
	return &documentList{
		list:  list.New(),
		index: make(map[string]*list.Element),
	}
}

func (dl *documentList) Get(key string) (domain.Document, bool) {
	if element, exists := dl.index[key]; exists {
		return element.Value.(*documentEntry).doc, true
	}
	return nil, false
}

func (dl *documentList) Contains(key string) bool {
	_, exists := dl.index[key]
	return exists
}

// PushBack appends a new entry. The caller guarantees key is not present.
func (dl *documentList) PushBack(key string, doc domain.Document) {
	element := dl.list.PushBack(&documentEntry{key: key, doc: doc})
	dl.index[key] = element
}

// Set replaces the document stored under key without moving it.
func (dl *documentList) Set(key string, doc domain.Document) bool {
	element, exists := dl.index[key]
	if !exists {
		return false
	}
	element.Value.(*documentEntry).doc = doc
	return true
}

func (dl *documentList) Remove(key string) bool {
	element, exists := dl.index[key]
	if !exists {
		return false
	}
	delete(dl.index, key)
	dl.list.Remove(element)
	return true
}

// Each calls fn for every document in insertion order until fn returns false.
func (dl *documentList) Each(fn func(key string, doc domain.Document) bool) {
	for element := dl.list.Front(); element != nil; element = element.Next() {
		entry := element.Value.(*documentEntry)
		if !fn(entry.key, entry.doc) {
			return
		}
	}
}

func (dl *documentList) Len() int {
	return dl.list.Len()
}
