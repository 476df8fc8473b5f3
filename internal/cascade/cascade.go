// Package cascade runs an ordered ladder of download strategies until
// one produces a verified artifact. Each rung pairs a format selector
// with option overrides; errors are classified to decide between
// moving down the ladder and aborting outright.
package cascade

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/yeguo/idm/internal/extractor"
	"github.com/yeguo/idm/internal/worker"
)

// Strategy is one rung of the ladder
type Strategy struct {
	Name      string
	Client    string // which backend runs the attempt: "ytdlp", "native", "direct"
	Format    string
	Overrides extractor.Options
}

// Attempt executes one strategy and returns the artifact path
type Attempt func(ctx context.Context, s Strategy) (string, error)

// Result reports which rung won
type Result struct {
	Path        string
	WinnerIndex int
	WinnerName  string
	Attempts    int
}

// AttemptError records one failed rung
type AttemptError struct {
	Index    int
	Strategy string
	Err      error
}

func (e AttemptError) Error() string {
	return fmt.Sprintf("strategy %d (%s): %v", e.Index, e.Strategy, e.Err)
}

func (e AttemptError) Unwrap() error {
	return e.Err
}

// ExhaustedError aggregates every failed attempt of a run
type ExhaustedError struct {
	Errors []AttemptError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ae := range e.Errors {
		parts = append(parts, ae.Error())
	}
	return fmt.Sprintf("all %d download attempts failed: %s", len(e.Errors), strings.Join(parts, "; "))
}

// Category returns the dominant failure kind across attempts, used for
// the coarse user-facing message.
func (e *ExhaustedError) Category() extractor.ErrorKind {
	counts := make(map[extractor.ErrorKind]int)
	for _, ae := range e.Errors {
		counts[extractor.Classify(ae.Err)]++
	}
	best, bestN := extractor.KindUnknown, 0
	for kind, n := range counts {
		if n > bestN {
			best, bestN = kind, n
		}
	}
	return best
}

// VerificationError means an attempt reported success but left no
// usable artifact behind.
type VerificationError struct {
	Path   string
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("artifact verification failed for %s: %s", e.Path, e.Reason)
}

// Cascade runs strategies in order with bounded attempts and classified
// retry decisions.
type Cascade struct {
	Strategies []Strategy

	// MaxAttempts caps total attempts independently of ladder length;
	// <= 0 means one attempt per strategy.
	MaxAttempts int

	// RetryDelay separates consecutive attempts; ForbiddenDelay is the
	// longer wait applied after a 403.
	RetryDelay     time.Duration
	ForbiddenDelay time.Duration

	// Verify checks the artifact an attempt claims to have produced.
	// Nil uses VerifyArtifact.
	Verify func(path string) error

	// Cancelled is polled between attempts; it may block while the
	// owning worker is paused. Nil means never cancelled.
	Cancelled func() bool

	// Logf receives attempt-by-attempt diagnostics. Nil uses log.Printf.
	Logf func(format string, args ...any)
}

// Run executes the ladder until a rung yields a verified artifact.
// It returns worker.ErrCancelled when cancellation is observed between
// attempts, and *ExhaustedError after the last permitted failure.
func (c *Cascade) Run(ctx context.Context, attempt Attempt) (*Result, error) {
	max := c.MaxAttempts
	if max <= 0 || max > len(c.Strategies) {
		max = len(c.Strategies)
	}

	var failures []AttemptError
	attempts := 0

	for i, s := range c.Strategies {
		if attempts >= max {
			break
		}
		if c.cancelled(ctx) {
			return nil, worker.ErrCancelled
		}

		attempts++
		path, err := attempt(ctx, s)
		if err == nil {
			if verr := c.verify(path); verr != nil {
				err = verr
			} else {
				return &Result{Path: path, WinnerIndex: i, WinnerName: s.Name, Attempts: attempts}, nil
			}
		}

		if c.cancelled(ctx) {
			return nil, worker.ErrCancelled
		}

		kind := extractor.Classify(err)
		failures = append(failures, AttemptError{Index: i, Strategy: s.Name, Err: err})
		c.logf("strategy %d (%s) failed [%s]: %v", i, s.Name, kind, err)

		if !kind.Retryable() {
			break
		}
		if i == len(c.Strategies)-1 || attempts >= max {
			continue
		}

		delay := c.RetryDelay
		if kind == extractor.KindAccessForbidden && c.ForbiddenDelay > delay {
			delay = c.ForbiddenDelay
		}
		if delay > 0 {
			if !c.sleep(ctx, delay) {
				return nil, worker.ErrCancelled
			}
		}
	}

	return nil, &ExhaustedError{Errors: failures}
}

func (c *Cascade) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return c.Cancelled != nil && c.Cancelled()
}

// sleep waits for d, returning false if cancelled meanwhile
func (c *Cascade) sleep(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if c.cancelled(ctx) {
			return false
		}
		step := 50 * time.Millisecond
		if remaining := time.Until(deadline); remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(step):
		}
	}
	return true
}

func (c *Cascade) verify(path string) error {
	if c.Verify != nil {
		return c.Verify(path)
	}
	return VerifyArtifact(path)
}

func (c *Cascade) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// VerifyArtifact confirms a download left a non-empty file at path.
// A complete .part file counts: the backend occasionally fails only the
// final rename.
func VerifyArtifact(path string) error {
	if path == "" {
		return &VerificationError{Path: path, Reason: "no output path reported"}
	}
	if st, err := os.Stat(path); err == nil {
		if st.Size() == 0 {
			return &VerificationError{Path: path, Reason: "file is empty"}
		}
		return nil
	}
	if st, err := os.Stat(path + ".part"); err == nil && st.Size() > 0 {
		return nil
	}
	return &VerificationError{Path: path, Reason: "file does not exist"}
}
