package rbtlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/reprowatch/internal/model"
)

// validate is shared by every Parse call; validator.Validate caches struct
// metadata and is safe for concurrent use.
var validate = validator.New()

// Log is the parsed form of one application's verification log.
type Log struct {
	// AppID is the "appid" field of the log, empty if absent.
	AppID string

	// Records are ordered by VersionCode ascending. Records sharing a
	// VersionCode keep their relative source order.
	Records []model.BuildRecord

	// Skipped lists records that were dropped as malformed.
	Skipped []Skipped
}

// Skipped describes one record that Parse dropped.
type Skipped struct {
	Index   int    // position in the source sequence
	Version string // version label if one could be read
	Reason  string
}

// rawBuild is one element of the "builds" array.
type rawBuild struct {
	Version      string `json:"version" validate:"required"`
	VersionCode  *int64 `json:"version_code" validate:"required,gte=0"`
	SHA256       string `json:"sha256" validate:"required,hexadecimal,startsnotwith=0x,startsnotwith=0X"`
	Reproducible *bool  `json:"reproducible" validate:"required"`
	BuildDate    string `json:"build_date"`
	Verifier     string `json:"verifier"`
}

// Parse decodes raw log bytes into an ordered sequence of BuildRecords.
//
// Empty input yields an empty Log. Malformed records are skipped, never
// fatal. Parse returns a *ParseError only when the top level is not a JSON
// object or a known container field has the wrong type.
func Parse(raw []byte) (*Log, error) {
	log := &Log{Records: []model.BuildRecord{}}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return log, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &top); err != nil {
		return nil, &ParseError{Message: "expected a JSON object", Err: err}
	}

	if appID, ok := top["appid"]; ok {
		if err := json.Unmarshal(appID, &log.AppID); err != nil {
			return nil, &ParseError{Message: "appid is not a string", Err: err}
		}
	}

	switch {
	case hasField(top, "builds"):
		if err := parseBuilds(top["builds"], log); err != nil {
			return nil, err
		}
	case hasField(top, "sha256"):
		if err := parseIndex(top, log); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(log.Records, func(i, j int) bool {
		return log.Records[i].VersionCode < log.Records[j].VersionCode
	})

	return log, nil
}

func hasField(top map[string]json.RawMessage, name string) bool {
	v, ok := top[name]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// parseBuilds handles the {"builds": [...]} shape.
func parseBuilds(data json.RawMessage, log *Log) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return &ParseError{Message: "builds is not an array", Err: err}
	}

	for i, elem := range elems {
		var rb rawBuild
		if err := json.Unmarshal(elem, &rb); err != nil {
			log.Skipped = append(log.Skipped, Skipped{Index: i, Reason: fmt.Sprintf("undecodable record: %v", err)})
			continue
		}
		if err := validate.Struct(rb); err != nil {
			log.Skipped = append(log.Skipped, Skipped{Index: i, Version: rb.Version, Reason: describeInvalid(err)})
			continue
		}
		log.Records = append(log.Records, model.BuildRecord{
			Version:      rb.Version,
			VersionCode:  *rb.VersionCode,
			SHA256:       strings.ToLower(rb.SHA256),
			Reproducible: *rb.Reproducible,
			BuildDate:    rb.BuildDate,
			Verifier:     rb.Verifier,
		})
	}
	return nil
}

// indexEntry is a synthesized record from the index shape, validated with
// the same rules as rawBuild.
type indexEntry struct {
	Version     string `validate:"required"`
	VersionCode int64  `validate:"gte=0"`
	SHA256      string `validate:"required,hexadecimal,startsnotwith=0x,startsnotwith=0X"`
}

// parseIndex handles the {"sha256": {hash: [versions]}, "version_codes": ...}
// shape produced by rbtlog's index generator.
func parseIndex(top map[string]json.RawMessage, log *Log) error {
	var hashes map[string][]string
	if err := json.Unmarshal(top["sha256"], &hashes); err != nil {
		return &ParseError{Message: "sha256 is not an object of version lists", Err: err}
	}

	codes := map[string]json.RawMessage{}
	if hasField(top, "version_codes") {
		if err := json.Unmarshal(top["version_codes"], &codes); err != nil {
			return &ParseError{Message: "version_codes is not an object", Err: err}
		}
	}

	verdicts := map[string]bool{}
	if hasField(top, "reproducible") {
		if err := json.Unmarshal(top["reproducible"], &verdicts); err != nil {
			return &ParseError{Message: "reproducible is not an object of booleans", Err: err}
		}
	}

	// Map iteration order is random; sort hashes so the source sequence,
	// and therefore duplicate resolution, is deterministic.
	hashKeys := make([]string, 0, len(hashes))
	for h := range hashes {
		hashKeys = append(hashKeys, h)
	}
	sort.Strings(hashKeys)

	index := 0
	for _, hash := range hashKeys {
		for _, version := range hashes[hash] {
			i := index
			index++

			rawCode, ok := codes[version]
			if !ok {
				log.Skipped = append(log.Skipped, Skipped{Index: i, Version: version, Reason: "no version code"})
				continue
			}
			var code int64
			if err := json.Unmarshal(rawCode, &code); err != nil {
				log.Skipped = append(log.Skipped, Skipped{Index: i, Version: version, Reason: fmt.Sprintf("invalid version code: %v", err)})
				continue
			}

			entry := indexEntry{Version: version, VersionCode: code, SHA256: hash}
			if err := validate.Struct(entry); err != nil {
				log.Skipped = append(log.Skipped, Skipped{Index: i, Version: version, Reason: describeInvalid(err)})
				continue
			}

			reproducible := true
			if v, ok := verdicts[version]; ok {
				reproducible = v
			}

			log.Records = append(log.Records, model.BuildRecord{
				Version:      version,
				VersionCode:  code,
				SHA256:       strings.ToLower(hash),
				Reproducible: reproducible,
			})
		}
	}
	return nil
}

// describeInvalid flattens validator errors into "field: tag" pairs.
func describeInvalid(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
