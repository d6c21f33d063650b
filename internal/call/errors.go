package call

import "errors"

var (
	// ErrNegotiationFailed means the local transport rejected an offer,
	// answer, or description. Recovered locally; the next inbound event may
	// retry.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrCandidateApplyFailed means one network candidate could not be
	// applied. Logged and skipped; never aborts the queue or the session.
	ErrCandidateApplyFailed = errors.New("candidate apply failed")
	// ErrMediaUnavailable means local media was not ready in time.
	// Negotiation proceeds without local tracks.
	ErrMediaUnavailable = errors.New("local media unavailable")
	// ErrCoordinatorClosed is returned by operations on a torn-down
	// Coordinator.
	ErrCoordinatorClosed = errors.New("coordinator closed")
)
