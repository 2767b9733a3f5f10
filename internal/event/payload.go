// Package event builds the Assertion and Attestation payloads published for
// each newly verified application version.
//
// Builders are pure: the same AppSpec and BuildRecord always produce the same
// payload, byte for byte. Signing, timestamps and identifiers are added later
// by the publisher.
package event

// Kind is the Nostr event kind shared by both payload variants.
const Kind = 31871

// Variant distinguishes the two payload types.
type Variant string

const (
	VariantAssertion   Variant = "assertion"
	VariantAttestation Variant = "attestation"
)

// Tag names. Order of emission is fixed by the builders.
const (
	TagIdentifier   = "d"
	TagApp          = "app"
	TagVersion      = "version"
	TagVersionCode  = "version_code"
	TagCommit       = "commit"
	TagHash         = "sha256"
	TagReproducible = "reproducible"
	TagArch         = "arch"
	TagBuildDate    = "build_date"
	TagVerifier     = "verifier"
	TagRelease      = "a"
	TagAssertion    = "e"
	TagValidity     = "validity"
)

// Tag is one key/value tag; element 0 is the name.
type Tag []string

// Payload is an unsigned event: everything the publisher needs except the
// author key and creation time.
type Payload struct {
	Variant Variant `json:"-"`
	Kind    int     `json:"kind"`
	Tags    []Tag   `json:"tags"`
	Content string  `json:"content"`
}

// TagValue returns the value of the first tag with the given name.
func (p Payload) TagValue(name string) (string, bool) {
	for _, t := range p.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// TagStrings returns tags as plain string slices.
func (p Payload) TagStrings() [][]string {
	out := make([][]string, len(p.Tags))
	for i, t := range p.Tags {
		out[i] = append([]string(nil), t...)
	}
	return out
}
