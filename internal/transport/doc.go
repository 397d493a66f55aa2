// Package transport maintains the single WebSocket stream between a chat
// client and the exchange chat server.
//
// A Conn is opened once with Dial and lives for the whole client session.
// Every inbound payload is delivered to every subscribed Listener, in the
// order the payloads arrived and in the order the listeners subscribed.
// There is no reconnection: once the read loop ends, Done is closed and Err
// reports an error wrapping ErrClosed.
//
// Example Usage:
//
//	conn, err := transport.Dial(ctx, "ws://127.0.0.1:8070",
//		transport.WithSubprotocols(protocol.Subprotocol),
//		transport.WithListener(render),
//	)
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//	conn.Send("hello")
package transport
