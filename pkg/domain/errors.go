package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed input such as a relative
	// database root or a document without a string identifier.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateKey is returned when inserting an identifier that already exists.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrKeyMismatch is returned when a replace handle and the replacement
	// document carry different identifiers.
	ErrKeyMismatch = errors.New("key mismatch")
	// ErrNotFound is returned when the targeted identifier does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIO wraps failures reading, writing or decoding persisted files.
	ErrIO = errors.New("io failure")
	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database closed")
)

// KeyError reports a failed collection operation on a specific identifier.
//
// The sentinel describing the failure can be matched with errors.Is.
type KeyError struct {
	Op         string
	Collection string
	Key        string
	Err        error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }
