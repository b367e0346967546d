// Package health decides whether a snapshot project's build matrix is
// complete, still in flight, or broken.
package health

import (
	"errors"
	"fmt"

	"snapwatch/internal/copr"
	"snapwatch/internal/matrix"
)

// Verdict is the overall judgement for one snapshot project.
type Verdict int

const (
	// AllGood means every expected pair succeeded and nothing else is
	// in the matrix.
	AllGood Verdict = iota
	// InProgress means no failures yet, but builds are still in flight.
	InProgress
	// Unhealthy means at least one failure, or expected records that
	// the farm never produced.
	Unhealthy
)

func (v Verdict) String() string {
	switch v {
	case AllGood:
		return "all-good"
	case InProgress:
		return "in-progress"
	case Unhealthy:
		return "unhealthy"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// ErrNoExpectedPairs is returned by EvaluateStrict when the expected
// matrix is empty. An empty matrix evaluates as vacuously healthy, which
// must never be mistaken for a green snapshot by promotion.
var ErrNoExpectedPairs = errors.New("health: expected build matrix is empty")

// Result is the outcome of evaluating one project.
type Result struct {
	Verdict Verdict
	// Failing holds every record in a failed or canceled state,
	// expected or not.
	Failing []copr.BuildRecord
	// Pending holds every record still in flight.
	Pending []copr.BuildRecord
	// Missing holds expected pairs the farm has no record for.
	Missing []matrix.Pair
}

// Summary returns a short counts line for logging.
func (r Result) Summary() string {
	return fmt.Sprintf("%s (%d failing, %d pending, %d missing)",
		r.Verdict, len(r.Failing), len(r.Pending), len(r.Missing))
}

// Evaluate compares the farm's build records against the expected matrix.
//
// Failures win: any failed or canceled record makes the snapshot
// Unhealthy even while other builds run. With no failures, in-flight
// records mean InProgress; a missing record during InProgress is a
// scheduling gap, not a failure. With nothing in flight, a missing
// record means the farm will never produce it, so the snapshot is
// Unhealthy. States this package does not know are treated as in flight.
func Evaluate(expected []matrix.Pair, records []copr.BuildRecord) Result {
	result := Result{Verdict: AllGood}

	have := make(map[matrix.Pair]copr.BuildRecord, len(records))
	for _, rec := range records {
		have[matrix.Pair{Chroot: matrix.Chroot(rec.Chroot), Package: matrix.Package(rec.Package)}] = rec
		switch {
		case rec.State.Failed():
			result.Failing = append(result.Failing, rec)
		case !rec.State.Terminal():
			result.Pending = append(result.Pending, rec)
		}
	}

	for _, pair := range expected {
		if _, ok := have[pair]; !ok {
			result.Missing = append(result.Missing, pair)
		}
	}

	switch {
	case len(result.Failing) > 0:
		result.Verdict = Unhealthy
	case len(result.Pending) > 0:
		result.Verdict = InProgress
	case len(result.Missing) > 0:
		result.Verdict = Unhealthy
	}
	return result
}

// EvaluateStrict is Evaluate with the empty-matrix guard.
func EvaluateStrict(expected []matrix.Pair, records []copr.BuildRecord) (Result, error) {
	if len(expected) == 0 {
		return Result{}, ErrNoExpectedPairs
	}
	return Evaluate(expected, records), nil
}
