// Package chat implements the broadcast hub of the exchange chat server.
//
// Every connection registers a Client with a random display name. Chat
// lines are stripped of markup and delivered to every client through its
// own bounded queue; a client that cannot keep up is dropped rather than
// stalling the others.
package chat
