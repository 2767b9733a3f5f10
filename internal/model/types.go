package model

import "fmt"

// DefaultArch is used when an application does not configure a target ABI.
const DefaultArch = "armeabi-v7a"

// AppSpec identifies one monitored application.
type AppSpec struct {
	// ID is the Android application id (e.g. "org.fossify.calendar").
	ID string `json:"id" yaml:"-"`

	// LogFile is the file name of the application's log inside the rbtlog
	// repository. Defaults to "<ID>.json".
	LogFile string `json:"log_file,omitempty" yaml:"log_file"`

	// Arch is the ABI the verified build targets.
	Arch string `json:"arch,omitempty" yaml:"arch"`

	// CommitTemplate renders the source reference for a version.
	// Supports {version} and {version_code} placeholders.
	CommitTemplate string `json:"commit_template,omitempty" yaml:"commit_template"`

	// ZapstoreAppID and ZapstorePubkey select the Zapstore app definition
	// used to link assertions to release events. Both optional.
	ZapstoreAppID  string `json:"zapstore_appid,omitempty" yaml:"zapstore_appid"`
	ZapstorePubkey string `json:"zapstore_pubkey,omitempty" yaml:"zapstore_pubkey"`
}

// LogFileName returns the configured log file or the conventional default.
func (a AppSpec) LogFileName() string {
	if a.LogFile != "" {
		return a.LogFile
	}
	return a.ID + ".json"
}

// TargetArch returns the configured arch or DefaultArch.
func (a AppSpec) TargetArch() string {
	if a.Arch != "" {
		return a.Arch
	}
	return DefaultArch
}

// BuildRecord is one verified build from the upstream log.
// VersionCode is unique per application in a well-formed log.
type BuildRecord struct {
	Version      string `json:"version"`
	VersionCode  int64  `json:"version_code"`
	SHA256       string `json:"sha256"`
	Reproducible bool   `json:"reproducible"`

	// Optional metadata, empty when the log omits it.
	BuildDate string `json:"build_date,omitempty"`
	Verifier  string `json:"verifier,omitempty"`
}

// String returns "version (code)" for log and error messages.
func (r BuildRecord) String() string {
	return fmt.Sprintf("%s (%d)", r.Version, r.VersionCode)
}

// StateEntry records that both events for one application version were
// published. It is created once and never mutated afterwards.
type StateEntry struct {
	AppID         string `json:"-"`
	Version       string `json:"-"`
	VersionCode   int64  `json:"version_code"`
	Processed     bool   `json:"processed"`
	AssertionID   string `json:"assertion_event_id"`
	AttestationID string `json:"attestation_event_id"`
}
