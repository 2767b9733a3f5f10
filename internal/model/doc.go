// Package model defines the value types shared by every stage of the
// reprowatch pipeline.
//
// This package contains type definitions only. All other internal packages
// import model; model imports nothing internal.
//
// Key constraints:
//   - AppSpec is immutable once loaded from configuration
//   - VersionCode is the ordering key; Version is the human label
//   - JSON tags use snake_case and match the persisted state layout
package model
