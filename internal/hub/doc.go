// Package hub broadcasts job progress to interested observers over
// websocket connections.
//
// The registry is transport-independent: anything implementing Conn can be
// connected, which keeps tests free of network setup. Delivery is
// best-effort and at-most-once; a connection whose send fails is pruned
// silently and other subscribers are unaffected.
package hub
