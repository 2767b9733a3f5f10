package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reprowatch/internal/model"
)

var (
	testApp = model.AppSpec{ID: "org.example.app", CommitTemplate: "v{version}"}
	testRec = model.BuildRecord{Version: "1.0.0", VersionCode: 7, SHA256: "abc123", Reproducible: true}
)

// snapshot renders a payload one tag per line for golden comparison.
func snapshot(t *testing.T, p Payload) []byte {
	t.Helper()
	var b bytes.Buffer
	fmt.Fprintf(&b, "kind: %d\n", p.Kind)
	for _, tg := range p.Tags {
		line, err := json.Marshal(tg)
		require.NoError(t, err)
		fmt.Fprintf(&b, "tag: %s\n", line)
	}
	fmt.Fprintf(&b, "content: %s\n", p.Content)
	return b.Bytes()
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestAssertion_Golden(t *testing.T) {
	g := newGoldie(t)

	t.Run("reproducible", func(t *testing.T) {
		p := Assertion(testApp, testRec)
		g.Assert(t, "assertion_reproducible", snapshot(t, p))
	})

	t.Run("not reproducible", func(t *testing.T) {
		app := testApp
		app.Arch = "arm64-v8a"
		rec := testRec
		rec.Reproducible = false
		rec.BuildDate = "2025-06-01"
		rec.Verifier = "rbtlog"

		p := Assertion(app, rec, WithRelease("30063:f00d:org.example.app@1.0.0"))
		g.Assert(t, "assertion_not_reproducible", snapshot(t, p))
	})
}

func TestAttestation_Golden(t *testing.T) {
	p := Attestation(testApp, testRec, "assertion-id-7")
	newGoldie(t).Assert(t, "attestation", snapshot(t, p))
}

func TestAssertion_Deterministic(t *testing.T) {
	a := Assertion(testApp, testRec, WithRelease("30063:x:y"))
	b := Assertion(testApp, testRec, WithRelease("30063:x:y"))
	assert.Equal(t, a, b)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, ja, jb)
}

func TestAssertion_RequiredTags(t *testing.T) {
	for _, reproducible := range []bool{true, false} {
		rec := testRec
		rec.Reproducible = reproducible
		p := Assertion(testApp, rec)

		assert.Equal(t, VariantAssertion, p.Variant)
		assert.Equal(t, Kind, p.Kind)
		for _, name := range []string{TagApp, TagVersion, TagCommit, TagHash, TagReproducible, TagArch} {
			v, ok := p.TagValue(name)
			assert.True(t, ok, "missing tag %s", name)
			assert.NotEmpty(t, v, "empty tag %s", name)
		}

		verdict, _ := p.TagValue(TagReproducible)
		assert.Equal(t, fmt.Sprint(reproducible), verdict)
	}
}

func TestAssertion_OmitsEmptyRelease(t *testing.T) {
	p := Assertion(testApp, testRec, WithRelease(""))
	_, ok := p.TagValue(TagRelease)
	assert.False(t, ok)
}

func TestAttestation_ReferencesAssertion(t *testing.T) {
	rec := testRec
	rec.Reproducible = false
	p := Attestation(testApp, rec, "abcdef")

	assert.Equal(t, VariantAttestation, p.Variant)
	ref, ok := p.TagValue(TagAssertion)
	require.True(t, ok)
	assert.Equal(t, "abcdef", ref)

	app, _ := p.TagValue(TagApp)
	assert.Equal(t, "org.example.app", app)

	validity, _ := p.TagValue(TagValidity)
	assert.Equal(t, "valid", validity)
}

func TestCommitRef(t *testing.T) {
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"empty uses version", "", "1.0.0"},
		{"version", "v{version}", "v1.0.0"},
		{"version code", "release-{version_code}", "release-7"},
		{"literal", "main", "main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := model.AppSpec{ID: "a", CommitTemplate: tt.template}
			assert.Equal(t, tt.want, CommitRef(app, testRec))
		})
	}
}

func TestAssertion_NormalizesUnicode(t *testing.T) {
	rec := testRec
	rec.Version = "1.0-café" // decomposed é
	p := Assertion(testApp, rec)

	v, _ := p.TagValue(TagVersion)
	assert.Equal(t, "1.0-café", v)
}

func TestPayload_TagStringsIsCopy(t *testing.T) {
	p := Attestation(testApp, testRec, "id")
	out := p.TagStrings()
	out[0][1] = "changed"
	v, _ := p.TagValue(TagIdentifier)
	assert.NotEqual(t, "changed", v)
}
