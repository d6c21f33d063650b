package call

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// candidateApplier is the slice of the session transport the queue needs.
type candidateApplier interface {
	AddICECandidate(webrtc.ICECandidateInit) error
}

// candidateQueue buffers network-path candidates that arrive before the
// transport has a remote description. It is owned by the Coordinator, scoped
// to one transport, and only touched from the serialized event loop.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

func (q *candidateQueue) enqueue(c webrtc.ICECandidateInit) {
	q.items = append(q.items, c)
}

func (q *candidateQueue) len() int {
	return len(q.items)
}

func (q *candidateQueue) clear() {
	q.items = nil
}

// drainInto applies the buffered candidates in arrival order and empties the
// queue. A candidate the transport rejects is logged and skipped; one bad
// candidate must not abort the rest of the queue or the session.
func (q *candidateQueue) drainInto(t candidateApplier, log zerolog.Logger) (applied int) {
	for _, c := range q.items {
		if err := t.AddICECandidate(c); err != nil {
			log.Warn().Err(fmt.Errorf("%w: %v", ErrCandidateApplyFailed, err)).
				Str("candidate", c.Candidate).
				Msg("skipping candidate that failed to apply")
			continue
		}
		applied++
	}
	q.items = nil
	return applied
}
