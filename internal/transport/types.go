package transport

import (
	"context"

	"mushqueue/internal/storage"
)

// Update is one line of input attributed to an object.
type Update struct {
	Player storage.DBRef
	Text   string
}

// Adapter connects the queue to whatever carries player input and output.
type Adapter interface {
	// Start begins delivering input to out. It returns once reading has
	// been set up; Done closes when the input side is exhausted.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	Done() <-chan struct{}

	SendText(ctx context.Context, to storage.DBRef, text string) error
}
