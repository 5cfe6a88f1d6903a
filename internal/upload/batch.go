package upload

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-tracker/internal/invoice"
)

// DefaultConcurrency bounds Batch when no limit is given
const DefaultConcurrency = 4

// Result is the outcome of one file in a batch
type Result struct {
	File    string
	Invoice *invoice.Invoice
	Err     error
}

// Batch uploads files in parallel, each through its own pipeline. One file
// failing does not stop the others; results are in the order of files.
func Batch(ctx context.Context, submitter Submitter, recorder Recorder, cfg Config, files []File, limit int) []Result {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	results := make([]Result, len(files))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, f := range files {
		g.Go(func() error {
			inv, err := New(submitter, recorder, cfg).Run(ctx, f)
			results[i] = Result{File: f.Name, Invoice: inv, Err: err}
			return nil
		})
	}
	g.Wait()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("Batch upload finished", "files", len(files), "failed", failed)
	return results
}
