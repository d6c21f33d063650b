// Package relayserver implements the reference room relay used for
// development and integration testing.
//
// The relay is a plain publish/subscribe fan-out: every frame published by a
// room subscriber is delivered to each other current subscriber of that room,
// never back to the publisher. It offers no ordering, no redelivery, no
// history, and no authentication. Rooms hold at most two subscribers.
package relayserver
