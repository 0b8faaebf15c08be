package storage

import (
	"context"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// Stream sends the documents matching filter, in iteration order, on the
// returned channel. Matches are captured when Stream is called; the channel
// is closed after the last one or when ctx is done.
func (c *Collection) Stream(ctx context.Context, filter map[string]interface{}) <-chan domain.Document {
	docs := c.Find(filter)
	out := make(chan domain.Document, 100)

	go func() {
		defer close(out)
		for _, doc := range docs {
			select {
			case out <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
