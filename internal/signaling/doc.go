// Package signaling contains the room signaling wire codec and the relay
// client used to exchange session-negotiation metadata between two peers.
//
// The relay is an opaque publish/subscribe channel scoped to a room: a frame
// published by one subscriber is delivered to every other current subscriber,
// with no ordering or redelivery guarantees. Media never crosses it.
package signaling
