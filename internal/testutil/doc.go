// Package testutil holds deterministic fakes shared by package tests:
// a stepping clock, in-memory relays and a recording publisher.
package testutil
