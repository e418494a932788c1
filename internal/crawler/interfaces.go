package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/forum-crawler/internal/forum"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResponse, error)
}

// Sink durably records topic details. Open is called once before the first
// Write and Close once after the last; Write is never called concurrently.
type Sink interface {
	Open(ctx context.Context) error
	Write(ctx context.Context, detail forum.TopicDetail) error
	Close(ctx context.Context) error
}

// DropReporter is implemented by sinks that may discard records after
// accepting them, such as a batching sink whose flush fails.
type DropReporter interface {
	Dropped() int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
