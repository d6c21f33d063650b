// Package media defines the local media collaborator boundary.
//
// Capture devices are outside this repository's scope; the call core only
// needs a handle that says when local tracks are ready and lets them be
// muted. The synthetic source below stands in for a real capture pipeline in
// development and tests.
package media

import "github.com/pion/webrtc/v4"

// Source supplies the local tracks attached to a session transport.
//
// Ready is closed once Tracks returns the final set; the call core may attach
// late (it rebinds tracks whenever the handle changes). SetEnabled mutes or
// unmutes one kind and reports the resulting state.
type Source interface {
	Ready() <-chan struct{}
	Tracks() []webrtc.TrackLocal
	SetEnabled(kind webrtc.RTPCodecType, enabled bool) bool
	Enabled(kind webrtc.RTPCodecType) bool
	Close() error
}
