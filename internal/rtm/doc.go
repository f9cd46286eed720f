// ABOUTME: Duplex event-stream client for the workspace's realtime socket
// ABOUTME: Correlates replies by id, acks envelope deliveries, keeps the link alive

// Package rtm maintains the realtime websocket to the workspace. The
// socket is duplex: the remote pushes events at any time, and outbound
// frames carry client-assigned ids so their replies can be correlated
// back to the sender.
//
// Three inbound frame shapes are understood:
//
//   - deliveries: carry an envelope_id that must be acknowledged
//     immediately, plus a wrapped event for the handler
//   - replies: carry reply_to naming the outbound frame they answer
//   - bare events: carry a type and go straight to the handler
//
// A frame matching none of these shapes is a protocol violation and
// tears the connection down; per-frame tolerance would leave the
// session in an unknowable state.
package rtm
