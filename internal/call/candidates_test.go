package call

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type recordingApplier struct {
	applied []string
	failOn  map[string]bool
}

func (r *recordingApplier) AddICECandidate(c webrtc.ICECandidateInit) error {
	if r.failOn[c.Candidate] {
		return errors.New("bad candidate")
	}
	r.applied = append(r.applied, c.Candidate)
	return nil
}

func TestCandidateQueue_DrainPreservesArrivalOrder(t *testing.T) {
	var q candidateQueue
	for _, c := range []string{"first", "second", "third"} {
		q.enqueue(webrtc.ICECandidateInit{Candidate: c})
	}

	applier := &recordingApplier{}
	applied := q.drainInto(applier, zerolog.Nop())

	if applied != 3 {
		t.Fatalf("applied=%d, want 3", applied)
	}
	want := []string{"first", "second", "third"}
	for i, c := range want {
		if applier.applied[i] != c {
			t.Fatalf("applied[%d]=%q, want %q (order must be preserved)", i, applier.applied[i], c)
		}
	}
	if q.len() != 0 {
		t.Fatalf("queue not empty after drain: %d", q.len())
	}
}

func TestCandidateQueue_DrainContinuesPastFailures(t *testing.T) {
	var q candidateQueue
	for _, c := range []string{"good1", "bad", "good2"} {
		q.enqueue(webrtc.ICECandidateInit{Candidate: c})
	}

	applier := &recordingApplier{failOn: map[string]bool{"bad": true}}
	applied := q.drainInto(applier, zerolog.Nop())

	if applied != 2 {
		t.Fatalf("applied=%d, want 2", applied)
	}
	if len(applier.applied) != 2 || applier.applied[0] != "good1" || applier.applied[1] != "good2" {
		t.Fatalf("unexpected applied set: %v", applier.applied)
	}
	if q.len() != 0 {
		t.Fatal("a failing candidate must not leave the queue populated")
	}
}

func TestCandidateQueue_DrainIsExactlyOnce(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "only"})

	applier := &recordingApplier{}
	q.drainInto(applier, zerolog.Nop())
	q.drainInto(applier, zerolog.Nop())

	if len(applier.applied) != 1 {
		t.Fatalf("candidate applied %d times, want exactly once", len(applier.applied))
	}
}

func TestCandidateQueue_Clear(t *testing.T) {
	var q candidateQueue
	q.enqueue(webrtc.ICECandidateInit{Candidate: "c"})
	q.clear()
	if q.len() != 0 {
		t.Fatal("clear must empty the queue")
	}

	applier := &recordingApplier{}
	if got := q.drainInto(applier, zerolog.Nop()); got != 0 {
		t.Fatalf("drain after clear applied %d", got)
	}
}
