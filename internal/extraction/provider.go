package extraction

import (
	"context"
	"errors"
)

// ErrProviderFailed wraps every provider-side failure: the tool could not
// run, timed out, reported an error, or produced no usable output.
var ErrProviderFailed = errors.New("extraction provider failed")

// Provider converts a batch of files on disk into extracted text.
// Implementations either return a Result or fail for the whole batch.
type Provider interface {
	Extract(ctx context.Context, paths []string) (Result, error)
}
