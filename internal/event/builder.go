package event

import (
	"strconv"
	"strings"
	"text/template"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/reprowatch/internal/model"
)

var (
	assertionContent = template.Must(template.New("assertion").Parse(
		`{{.AppID}} {{.Version}} (version code {{.VersionCode}}) ` +
			`{{if .Reproducible}}is reproducible{{else}}is NOT reproducible{{end}}: ` +
			`the {{.Arch}} build of {{.Commit}} ` +
			`{{if .Reproducible}}matches{{else}}does not match{{end}} ` +
			`the published APK with SHA-256 {{.SHA256}}.`))

	attestationContent = template.Must(template.New("attestation").Parse(
		`Attesting that assertion {{.AssertionID}} about {{.AppID}} {{.Version}} ` +
			`(version code {{.VersionCode}}) is valid.`))
)

// fields is the flattened input to both content templates.
type fields struct {
	AppID        string
	Version      string
	VersionCode  int64
	Commit       string
	SHA256       string
	Reproducible bool
	Arch         string
	AssertionID  string
}

func newFields(app model.AppSpec, rec model.BuildRecord) fields {
	return fields{
		AppID:        app.ID,
		Version:      rec.Version,
		VersionCode:  rec.VersionCode,
		Commit:       CommitRef(app, rec),
		SHA256:       rec.SHA256,
		Reproducible: rec.Reproducible,
		Arch:         app.TargetArch(),
	}
}

// AssertionOption adjusts optional Assertion tags.
type AssertionOption func(*assertionOptions)

type assertionOptions struct {
	release string
}

// WithRelease links the assertion to a release event by coordinate
// ("<kind>:<pubkey>:<d>"). Empty coordinates are ignored.
func WithRelease(coordinate string) AssertionOption {
	return func(o *assertionOptions) {
		o.release = coordinate
	}
}

// Assertion builds the payload declaring the reproducibility verdict for
// one version.
func Assertion(app model.AppSpec, rec model.BuildRecord, opts ...AssertionOption) Payload {
	var o assertionOptions
	for _, opt := range opts {
		opt(&o)
	}

	f := newFields(app, rec)
	tags := []Tag{
		tag(TagIdentifier, "assertion:"+app.ID+"@"+rec.Version),
		tag(TagApp, app.ID),
		tag(TagVersion, rec.Version),
		tag(TagVersionCode, strconv.FormatInt(rec.VersionCode, 10)),
		tag(TagCommit, f.Commit),
		tag(TagHash, rec.SHA256),
		tag(TagReproducible, strconv.FormatBool(rec.Reproducible)),
		tag(TagArch, f.Arch),
	}
	if rec.BuildDate != "" {
		tags = append(tags, tag(TagBuildDate, rec.BuildDate))
	}
	if rec.Verifier != "" {
		tags = append(tags, tag(TagVerifier, rec.Verifier))
	}
	if o.release != "" {
		tags = append(tags, tag(TagRelease, o.release))
	}

	return Payload{
		Variant: VariantAssertion,
		Kind:    Kind,
		Tags:    tags,
		Content: render(assertionContent, f),
	}
}

// Attestation builds the payload confirming that the assertion identified
// by assertionID is true. It is emitted for non-reproducible verdicts too:
// it vouches for the statement, not for the build.
func Attestation(app model.AppSpec, rec model.BuildRecord, assertionID string) Payload {
	f := newFields(app, rec)
	f.AssertionID = assertionID

	return Payload{
		Variant: VariantAttestation,
		Kind:    Kind,
		Tags: []Tag{
			tag(TagIdentifier, "attestation:"+app.ID+"@"+rec.Version),
			tag(TagApp, app.ID),
			tag(TagVersion, rec.Version),
			tag(TagAssertion, assertionID),
			tag(TagValidity, "valid"),
		},
		Content: render(attestationContent, f),
	}
}

// CommitRef renders the app's commit template for a record. {version} and
// {version_code} are substituted; an empty template yields the version label.
func CommitRef(app model.AppSpec, rec model.BuildRecord) string {
	if app.CommitTemplate == "" {
		return rec.Version
	}
	return strings.NewReplacer(
		"{version}", rec.Version,
		"{version_code}", strconv.FormatInt(rec.VersionCode, 10),
	).Replace(app.CommitTemplate)
}

func tag(name, value string) Tag {
	return Tag{name, norm.NFC.String(value)}
}

// render executes a package template. The templates are fixed and the data
// is a plain struct, so failure is a programming error.
func render(t *template.Template, f fields) string {
	var b strings.Builder
	if err := t.Execute(&b, f); err != nil {
		panic("event: render " + t.Name() + ": " + err.Error())
	}
	return norm.NFC.String(b.String())
}
