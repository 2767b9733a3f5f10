// Package state provides durable storage for the set of application versions
// whose Assertion/Attestation pair has been fully published.
//
// A Store is loaded once per run, receives one RecordProcessed call per
// completed version and is persisted after each record. Three backends exist:
//
//   - MemoryStore: no durability, used by tests and dry runs
//   - FileStore: a JSON document replaced atomically on Persist
//   - SQLiteStore: a WAL-mode SQLite database, one transaction per record
//
// Entries are keyed by (application id, version code) and are never
// modified or deleted once recorded. Recording an existing key returns a
// *ConflictError, which callers treat as "already done".
//
// # JSON layout
//
// FileStore writes the layout shared with earlier tooling:
//
//	{
//	  "org.example.app": {
//	    "1.2.0": {
//	      "processed": true,
//	      "version_code": 12,
//	      "assertion_event_id": "…",
//	      "attestation_event_id": "…"
//	    }
//	  }
//	}
//
// Entries without a version_code (written by older tools) are preserved
// verbatim but are invisible to Load.
package state
