package firecode

import (
	"time"

	"github.com/hashicorp/go-multierror"
)

// Default traversal configuration.
const (
	// DefaultBatchSize is the number of documents fetched per page when the
	// config leaves BatchSize unset.
	DefaultBatchSize = 250

	// DefaultMaxConcurrentBatchCount is the fast traverser's concurrency
	// ceiling when the config leaves MaxConcurrentBatchCount unset.
	DefaultMaxConcurrentBatchCount = 10
)

// TraversalConfig governs how a traverser pages through a collection. The
// zero value is valid: unset (zero) fields fall back to defaults, and only
// explicitly negative values are configuration errors. Config is validated
// once, at traverser construction or WithConfig, never mid-traversal.
type TraversalConfig struct {
	// BatchSize is the maximum number of documents per fetched page.
	// 0 means DefaultBatchSize.
	BatchSize int

	// DelayBetweenBatches pauses the traversal between batches to throttle
	// the request rate against the backing store. 0 means no delay.
	DelayBetweenBatches time.Duration

	// MaxDocCount caps the number of documents traversed. 0 means unbounded.
	// The final page's fetch limit shrinks so the cap is never overshot.
	MaxDocCount int

	// MaxConcurrentBatchCount is the fast traverser's ceiling on batches that
	// are fetched but whose callback has not yet settled. 0 means
	// DefaultMaxConcurrentBatchCount. The sequential traverser ignores it.
	MaxConcurrentBatchCount int
}

// Validate checks the configuration and reports every violation at once.
func (c TraversalConfig) Validate() error {
	var errs *multierror.Error
	if c.BatchSize < 0 {
		errs = multierror.Append(errs, ErrInvalidBatchSize)
	}
	if c.DelayBetweenBatches < 0 {
		errs = multierror.Append(errs, ErrInvalidDelay)
	}
	if c.MaxDocCount < 0 {
		errs = multierror.Append(errs, ErrInvalidMaxDocCount)
	}
	if c.MaxConcurrentBatchCount < 0 {
		errs = multierror.Append(errs, ErrInvalidConcurrency)
	}
	return errs.ErrorOrNil()
}

// withDefaults returns a copy with unset fields resolved to their defaults.
// After normalization BatchSize >= 1 and MaxConcurrentBatchCount >= 1 hold.
func (c TraversalConfig) withDefaults() TraversalConfig {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxConcurrentBatchCount == 0 {
		c.MaxConcurrentBatchCount = DefaultMaxConcurrentBatchCount
	}
	return c
}

// nextFetchLimit returns the fetch limit for the next page given the number
// of documents already traversed, honouring MaxDocCount. 0 means the cap is
// reached and no further page may be fetched.
func (c TraversalConfig) nextFetchLimit(traversed int) int {
	if c.MaxDocCount == 0 {
		return c.BatchSize
	}
	remaining := c.MaxDocCount - traversed
	if remaining <= 0 {
		return 0
	}
	return min(c.BatchSize, remaining)
}

// ErrorPolicy selects how TraverseEach reacts to an individual document
// callback failure.
type ErrorPolicy int

const (
	// ErrorPolicyAbort stops the whole traversal on the first document
	// callback failure and propagates it. This is the default.
	ErrorPolicyAbort ErrorPolicy = iota

	// ErrorPolicyContinue records the failure (through the configured
	// ErrorHandler, or the traverser's logger when none is set) and moves on
	// to the next document. The traversal then completes normally.
	ErrorPolicyContinue
)

// RecordErrorHandler receives a document whose callback failed when
// TraverseEach runs under ErrorPolicyContinue.
type RecordErrorHandler[D any] func(doc Document[D], err error)

// TraverseEachConfig tunes per-document traversal. The zero value aborts on
// the first failure and applies no inter-document delay.
type TraverseEachConfig[D any] struct {
	// DelayBetweenDocs pauses between document callbacks to throttle
	// per-document work. 0 means no delay.
	DelayBetweenDocs time.Duration

	// OnError selects the failure policy for document callbacks.
	OnError ErrorPolicy

	// ErrorHandler observes failures under ErrorPolicyContinue. Ignored
	// under ErrorPolicyAbort.
	ErrorHandler RecordErrorHandler[D]
}

// Validate checks the per-document traversal configuration.
func (c TraverseEachConfig[D]) Validate() error {
	if c.DelayBetweenDocs < 0 {
		return ErrInvalidDocDelay
	}
	return nil
}
