// Package call implements the two-party negotiation core: leader/follower
// role resolution, the candidate queue, presence announcement, session
// transport ownership, and the Coordinator state machine that drives them.
//
// The Coordinator consumes relay messages and transport callbacks as events
// on a single serialized loop, and emits signaling messages outward plus
// status changes to the presentation layer. The relay offers no ordering or
// delivery guarantees; the protocol compensates with join re-announcement,
// candidate buffering, and deterministic role resolution.
package call
