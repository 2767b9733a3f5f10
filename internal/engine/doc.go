// Package engine drives one check run: for every monitored application it
// fetches and parses the build log, diffs it against recorded state, and
// publishes an Assertion/Attestation pair per new version.
//
// Each application moves through a fixed sequence of phases:
//
//	FETCHING → PARSING → DIFFING →
//	  (BUILDING_ASSERTION → PUBLISHING_ASSERTION →
//	   BUILDING_ATTESTATION → PUBLISHING_ATTESTATION → RECORDING)* → DONE
//
// with FAILED reachable from any phase. A failure ends the current
// application only; its remaining newer versions wait for the next run so
// versions are always recorded oldest first.
//
// A version is recorded only after both of its events were accepted, and
// state is persisted after every recorded version. Re-running on unchanged
// input therefore publishes nothing.
//
// The run is sequential. Publish throttling is the publisher's concern.
package engine
