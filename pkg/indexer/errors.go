package indexer

import (
	"context"
	"errors"

	"github.com/canopy-network/bakerx/pkg/db"
	"github.com/canopy-network/bakerx/pkg/rpc"
)

// ErrAmbiguousHeight is returned when the node reports more than one finalized block at a
// height. No block is picked; the run stops there.
var ErrAmbiguousHeight = errors.New("multiple blocks at height")

// Error classes, used as log fields and metric labels.
const (
	ClassTransient   = "transient"
	ClassMalformed   = "malformed"
	ClassConsistency = "consistency"
	ClassStorage     = "storage"
	ClassCancelled   = "cancelled"
)

// Classify maps a run error to its handling class. Unknown errors count as transient: the
// watermark did not move and the next tick retries.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, db.ErrConsistency):
		return ClassConsistency
	case errors.Is(err, db.ErrStorage):
		return ClassStorage
	case errors.Is(err, ErrAmbiguousHeight), errors.Is(err, rpc.ErrMalformedResponse):
		return ClassMalformed
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	default:
		return ClassTransient
	}
}

// IsFatal reports whether err must stop the daemon rather than wait for the next tick.
func IsFatal(err error) bool {
	return Classify(err) == ClassStorage
}
