// Package protocol defines the commands exchanged between chat clients and the
// exchange chat server.
//
// Two wire forms are supported:
//
// Legacy text (no WebSocket subprotocol):
//   - free chat text, sent verbatim
//   - exchange / exchange <days>
//   - buy_convert <amount> <currency> / sell_convert <amount> <currency>
//
// Tagged envelope (subprotocol "exchangechat.v1"):
//
//	{"kind":"buy_convert","id":"req_01J...","amount":"10","currency":"EUR"}
//	{"kind":"result","id":"req_01J...","text":"10 EUR = 412.30 UAH"}
//
// Replies in the tagged form echo the request id, so a client can match replies
// to requests regardless of interleaved chat traffic. Inbound payloads of either
// form are rendered line by line; see SplitLines.
package protocol
