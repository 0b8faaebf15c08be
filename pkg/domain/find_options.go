package domain

import "fmt"

// FindOptions bounds the result of a find.
type FindOptions struct {
	// Limit caps the number of returned documents and stops the scan once
	// reached. Zero means no limit.
	Limit int `json:"limit,omitempty"`
	// Offset skips that many matching documents before collecting results.
	Offset int `json:"offset,omitempty"`
}

// Validate validates find options
func (o *FindOptions) Validate() error {
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative", ErrInvalidArgument)
	}
	if o.Offset < 0 {
		return fmt.Errorf("%w: offset cannot be negative", ErrInvalidArgument)
	}
	return nil
}
