package attention

import "github.com/pkg/errors"

// Compare with errors.Cause.
var (
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrCheckpointDirNotFound = errors.New("checkpoint directory not found")
	ErrNoCheckpoint          = errors.New("no checkpoint found")
	ErrCheckpointMismatch    = errors.New("checkpoint does not match model")
	ErrBatchShape            = errors.New("batch has the wrong shape")
	ErrNonFiniteLoss         = errors.New("loss is not finite")
	ErrEmptyCorpus           = errors.New("corpus has no batches")
	ErrSessionClosed         = errors.New("session is closed")
)
