// Package uploadpipeline runs a batch of in-memory files through size
// optimization and deduplication, producing one outcome per file. Files are
// processed with bounded parallelism; one file's failure never affects its
// siblings.
package uploadpipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/stable-delusion/imagestore/go/dedup"
	"github.com/stable-delusion/imagestore/go/digest"
	"github.com/stable-delusion/imagestore/go/hashcache"
	"github.com/stable-delusion/imagestore/go/imgopt"
	"github.com/stable-delusion/imagestore/go/metrics2"
	"github.com/stable-delusion/imagestore/go/now"
	"github.com/stable-delusion/imagestore/go/sklog"
	"github.com/stable-delusion/imagestore/go/upload"
)

const (
	// defaultParallelism bounds concurrent files per batch. Uploads are
	// interactive; a small pool keeps memory for decoded images in check.
	defaultParallelism = 4

	// fallbackNameFormat is the time layout used to synthesize a key when
	// the caller-supplied name is unusable.
	fallbackNameFormat = "060102-15:04:05"
)

// safeNameChars matches everything a store key component may not contain.
var safeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// File is one upload: a caller-supplied name and its full contents.
type File struct {
	Name  string
	Bytes []byte
}

// Options configures a Pipeline.
type Options struct {
	// BudgetBytes is the per-file size ceiling. Files above it are run
	// through imgopt before submission.
	BudgetBytes int
	// Parallelism bounds the number of files processed concurrently.
	// Zero means the default.
	Parallelism int
}

// Pipeline processes batches against a single Deduplicator (and therefore a
// single hash cache). It is safe for concurrent Process calls.
type Pipeline struct {
	deduper     *dedup.Deduplicator
	budget      int
	parallelism int

	storedCounter       metrics2.Counter
	deduplicatedCounter metrics2.Counter
	rejectedCounter     metrics2.Counter
	optimizeAttempts    metrics2.Float64SummaryMetric
}

// New returns a Pipeline submitting through deduper.
func New(deduper *dedup.Deduplicator, opts Options) *Pipeline {
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Pipeline{
		deduper:             deduper,
		budget:              opts.BudgetBytes,
		parallelism:         parallelism,
		storedCounter:       metrics2.GetCounter("uploadpipeline_files", map[string]string{"outcome": "stored"}),
		deduplicatedCounter: metrics2.GetCounter("uploadpipeline_files", map[string]string{"outcome": "deduplicated"}),
		rejectedCounter:     metrics2.GetCounter("uploadpipeline_files", map[string]string{"outcome": "rejected"}),
		optimizeAttempts:    metrics2.GetFloat64SummaryMetric("uploadpipeline_optimize_attempts"),
	}
}

// Process runs every file through optimize-if-needed then deduplicate-then-
// store, returning outcomes in input order. If the hash cache is unusable the
// whole batch is rejected up front, before any store traffic: every
// subsequent dedup decision would be untrustworthy.
func (p *Pipeline) Process(ctx context.Context, files []File) []upload.Outcome {
	outcomes := make([]upload.Outcome, len(files))
	if !p.deduper.Cache().Built() {
		err := &hashcache.StoreUnavailableError{}
		for i, f := range files {
			outcomes[i] = p.reject(f.Name, upload.ReasonStoreUnavailable, err)
		}
		return outcomes
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.parallelism)
	for i, f := range files {
		i, f := i, f
		eg.Go(func() error {
			outcomes[i] = p.processOne(ctx, f)
			// Errors are per-file outcomes, never group failures.
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

// processOne handles a single file and always returns an outcome.
func (p *Pipeline) processOne(ctx context.Context, f File) upload.Outcome {
	if err := ctx.Err(); err != nil {
		return p.reject(f.Name, upload.ReasonCanceled, err)
	}

	b := f.Bytes
	if p.budget > 0 && len(b) > p.budget {
		res, err := imgopt.Optimize(b, p.budget)
		if err != nil {
			return p.reject(f.Name, reasonForError(err), err)
		}
		p.optimizeAttempts.Observe(float64(res.Attempts))
		sklog.Infof("Optimized %q from %d to %d bytes (format %s, quality %d)",
			f.Name, res.OriginalSize, res.FinalSize, res.Format, res.Quality)
		b = res.Bytes
	}

	if err := ctx.Err(); err != nil {
		return p.reject(f.Name, upload.ReasonCanceled, err)
	}

	outcome, err := p.deduper.Submit(ctx, b, p.keyName(ctx, f.Name))
	if err != nil {
		return p.reject(f.Name, reasonForError(err), err)
	}
	outcome.Name = f.Name
	switch outcome.Kind {
	case upload.Stored:
		p.storedCounter.Inc(1)
	case upload.Deduplicated:
		p.deduplicatedCounter.Inc(1)
	}
	sklog.Infof("%s", outcome)
	return outcome
}

// reject builds a Rejected outcome and counts it.
func (p *Pipeline) reject(name string, reason upload.RejectReason, err error) upload.Outcome {
	p.rejectedCounter.Inc(1)
	outcome := upload.Outcome{
		Name:   name,
		Kind:   upload.Rejected,
		Reason: reason,
		Err:    err,
	}
	sklog.Warningf("%s", outcome)
	return outcome
}

// reasonForError maps the error taxonomy of the lower layers onto reject
// reasons.
func reasonForError(err error) upload.RejectReason {
	var unavailable *hashcache.StoreUnavailableError
	var writeFailed *dedup.StoreWriteError
	var unoptimizable *imgopt.UnoptimizableError
	switch {
	case errors.As(err, &unavailable):
		return upload.ReasonStoreUnavailable
	case errors.As(err, &writeFailed):
		return upload.ReasonStoreWriteFailed
	case errors.As(err, &unoptimizable):
		return upload.ReasonUnoptimizable
	case errors.Is(err, digest.ErrUnreadable):
		return upload.ReasonDigestFailed
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return upload.ReasonCanceled
	default:
		return upload.ReasonInternal
	}
}

// keyName sanitizes a caller-supplied file name into a store key component.
// Anything outside [A-Za-z0-9._-] collapses to a single underscore; path
// separators never survive. A name that sanitizes to nothing is replaced by
// a timestamped fallback.
func (p *Pipeline) keyName(ctx context.Context, name string) string {
	// Only the final path element can name an object; uploads have no say
	// over directories.
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	name = safeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._-")
	if name == "" {
		return fmt.Sprintf("upload_%s.bin", now.Now(ctx).UTC().Format(fallbackNameFormat))
	}
	return name
}
