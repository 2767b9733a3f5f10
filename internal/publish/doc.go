// Package publish signs event payloads and sends them to Nostr relays.
//
// Every Publisher makes exactly one attempt per relay per event; retries are
// left to the next run, which re-publishes any version that was not recorded.
package publish
