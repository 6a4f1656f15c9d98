package tts

import (
	"context"
	"fmt"

	"github.com/liuscraft/streamtts/internal/logging"
)

// BatchError reports which input of a batch failed.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch item %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

type synthesizeFunc func(ctx context.Context, text string) (Result, error)

// BatchSynthesize synthesizes texts strictly one after another, each with its
// own connection. The first failure aborts the batch: later inputs are never
// sent and no partial results are returned.
func (c *Client) BatchSynthesize(ctx context.Context, texts []string, opts SynthesizeOptions) ([]Result, error) {
	return runBatch(ctx, texts, func(ctx context.Context, text string) (Result, error) {
		return c.Synthesize(ctx, text, opts)
	})
}

func runBatch(ctx context.Context, texts []string, synthesize synthesizeFunc) ([]Result, error) {
	results := make([]Result, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		res, err := synthesize(ctx, text)
		if err != nil {
			logging.Warnf("batch aborted at item %d/%d: %v", i+1, len(texts), err)
			return nil, &BatchError{Index: i, Err: err}
		}
		results = append(results, res)
	}
	return results, nil
}
