// Package relay manages connections to Nostr relays.
//
// A Pool dials each relay at most once per run and hands out the cached
// connection afterwards. Publishing and querying go through the Conn
// interface so tests can substitute in-memory relays.
package relay
