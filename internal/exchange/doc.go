// Package exchange answers the chat's currency commands from PrivatBank
// rates: current summaries, conversions to UAH and day-by-day history.
//
// Client talks to the PrivatBank API. Service formats replies and is the
// only thing the WebSocket handler calls. Journal keeps a file record of
// every summary served.
package exchange
