// Package correlator pairs outbound commands with their inbound replies on a
// shared stream.
//
// Two matching modes exist:
//   - ModeTagged: every request carries a req_<ULID> id which the server
//     echoes; replies are routed through a map from id to pending request.
//   - ModeLegacy: plain text servers echo nothing, so the oldest pending
//     request takes the next unclaimed payload, whatever its content.
//
// Every request is bounded by a timeout and by its context. Timed out,
// cancelled and failed requests are removed from the pending map. When the
// transport ends, Close fails every pending request with ErrClosed.
//
// The correlator is wired as the first transport listener:
//
//	conn.Subscribe(func(p []byte) {
//		if !corr.Handle(p) {
//			display(p)
//		}
//	})
package correlator
