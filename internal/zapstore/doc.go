// Package zapstore looks up Zapstore app definitions and release events so
// assertions can reference the release they describe.
//
// App definitions are addressable events of kind 32267 keyed by the Zapstore
// app id in their d tag. Releases are kind 30063 events pointing back at the
// definition with an a tag of the form "32267:<pubkey>:<app id>".
package zapstore
