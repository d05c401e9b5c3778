package sync

import (
	"errors"

	"github.com/marcus/till/internal/models"
)

var (
	// ErrNotSynced reports a transaction saved locally but not confirmed by
	// the remote store. The wrapped cause says why.
	ErrNotSynced = errors.New("saved locally, not yet synced")

	// ErrOffline is the cause when no delivery was attempted
	ErrOffline = errors.New("offline")

	// ErrNoIdentity means no authenticated user is available for a write
	ErrNoIdentity = errors.New("no current user identity")

	// ErrRejected marks a write the remote store refused
	ErrRejected = errors.New("rejected by remote store")
)

// statusCoder is implemented by transport errors that carry an HTTP status
type statusCoder interface {
	StatusCode() int
}

// Classify maps a failed delivery attempt onto its failure kind.
func Classify(err error) models.FailureKind {
	switch {
	case errors.Is(err, ErrNoIdentity):
		return models.FailurePrecondition
	case errors.Is(err, ErrRejected):
		return models.FailureRejected
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		if s := sc.StatusCode(); s >= 400 && s < 500 {
			return models.FailureRejected
		}
	}
	return models.FailureConnectivity
}
