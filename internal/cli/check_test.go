package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reprowatch/internal/engine"
	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/rbtlog"
	"github.com/roach88/reprowatch/internal/state"
	"github.com/roach88/reprowatch/internal/testutil"
)

const (
	testKey    = "0000000000000000000000000000000000000000000000000000000000000001"
	devPubkey  = "d000000000000000000000000000000000000000000000000000000000000001"
	relayURL   = "wss://relay.one"
	exampleLog = `{"appid":"org.example.app","builds":[
		{"version":"1.0.0","version_code":7,"sha256":"abc123","reproducible":true},
		{"version":"1.1.0","version_code":8,"sha256":"def456","reproducible":false}
	]}`
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mapSource map[string]string

func (s mapSource) Fetch(ctx context.Context, app model.AppSpec) ([]byte, error) {
	raw, ok := s[app.ID]
	if !ok {
		return nil, &rbtlog.FetchError{AppID: app.ID, URL: "https://logs.example/" + app.ID, StatusCode: 404}
	}
	return []byte(raw), nil
}

type testEnv struct {
	dir        string
	configPath string
	statePath  string
	relay      *testutil.FakeRelay
	network    *testutil.FakeNetwork
	source     mapSource
}

// newTestEnv writes a configuration using the given nostr key, backend and
// extra app yaml (indented under apps:).
func newTestEnv(t *testing.T, key, backend, apps string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		statePath:  filepath.Join(dir, "state", "state."+map[string]string{"json": "json", "sqlite": "db"}[backend]),
		relay:      testutil.NewFakeRelay(relayURL),
		source:     mapSource{"org.example.app": exampleLog},
	}
	env.network = testutil.NewFakeNetwork(env.relay)

	var nsec string
	if key != "" {
		nsec = fmt.Sprintf("  nsec: %q\n", key)
	}
	if apps == "" {
		apps = "  org.example.app:\n    commit_template: \"v{version}\"\n"
	}
	yaml := "nostr:\n  relays: [" + relayURL + "]\n" + nsec +
		"  publish_interval: \"0\"\n" +
		"state:\n  backend: " + backend + "\n  path: " + fmt.Sprintf("%q", env.statePath) + "\n" +
		"apps:\n" + apps
	require.NoError(t, os.WriteFile(env.configPath, []byte(yaml), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Dir(env.statePath), 0o755))
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(Deps{
		Source: e.source,
		Dial:   e.network.Dial,
		Getenv: func(string) string { return "" },
		Clock:  testutil.NewStepClock(epoch, time.Second),
		RunIDs: engine.NewFixedGenerator("run-1"),
	})
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--env-file", filepath.Join(e.dir, "none.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func loadState(t *testing.T, path string) state.Snapshot {
	t.Helper()
	st, err := state.OpenFile(path)
	require.NoError(t, err)
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func TestCheck_PublishesAndRecords(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")

	stdout, _, err := env.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Run run-1: 1 apps checked, 0 failed, 4 events published")
	assert.Contains(t, stdout, "1.1.0 (8) NOT reproducible")

	published := env.relay.Published()
	require.Len(t, published, 4)
	for _, ev := range published {
		ok, err := ev.CheckSignature()
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, published[0].ID, published[1].Tags.GetFirst([]string{"e"}).Value())

	snap := loadState(t, env.statePath)
	entry := snap.App("org.example.app").Entries[7]
	assert.Equal(t, "1.0.0", entry.Version)
	assert.Equal(t, published[0].ID, entry.AssertionID)
	assert.Equal(t, published[1].ID, entry.AttestationID)

	// Second run publishes nothing.
	stdout, _, err = env.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 events published")
	assert.Len(t, env.relay.Published(), 4)
}

func TestCheck_SQLiteBackend(t *testing.T) {
	env := newTestEnv(t, testKey, "sqlite", "")

	_, _, err := env.run(t, "check")
	require.NoError(t, err)

	st, err := state.OpenSQLite(env.statePath)
	require.NoError(t, err)
	defer st.Close()
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
}

func TestCheck_DryRun(t *testing.T) {
	env := newTestEnv(t, "", "json", "")

	stdout, _, err := env.run(t, "check", "--dry-run")
	require.NoError(t, err)

	assert.Empty(t, env.relay.Published())
	_, statErr := os.Stat(env.statePath)
	assert.True(t, os.IsNotExist(statErr), "dry run must not create state")

	var previews []map[string]any
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(line, "{") {
			var rec map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &rec))
			previews = append(previews, rec)
		}
	}
	require.Len(t, previews, 4)
	assert.Equal(t, "assertion", previews[0]["variant"])
	assert.Equal(t, "attestation", previews[1]["variant"])
	assert.Contains(t, stdout, "(dry run)")
}

func TestCheck_DryRunReadsExistingState(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")
	_, _, err := env.run(t, "check", "--app", "org.example.app")
	require.NoError(t, err)
	before, err := os.ReadFile(env.statePath)
	require.NoError(t, err)

	stdout, _, err := env.run(t, "check", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "0 events published")

	after, err := os.ReadFile(env.statePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCheck_ExitCodes(t *testing.T) {
	twoApps := "  org.example.app:\n  org.missing.app:\n"

	t.Run("one app fails", func(t *testing.T) {
		env := newTestEnv(t, testKey, "json", twoApps)
		stdout, _, err := env.run(t, "check")
		require.NoError(t, err)
		assert.Contains(t, stdout, "org.missing.app: FAILED [FETCH_FAILED] at FETCHING")
	})

	t.Run("all apps fail", func(t *testing.T) {
		env := newTestEnv(t, testKey, "json", twoApps)
		env.source = mapSource{}
		_, _, err := env.run(t, "check")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	})

	t.Run("publish rejected everywhere", func(t *testing.T) {
		env := newTestEnv(t, testKey, "json", "")
		env.relay.PublishErr = fmt.Errorf("blocked")
		stdout, _, err := env.run(t, "check")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, stdout, "PUBLISH_FAILED")
		assert.Equal(t, 0, loadState(t, env.statePath).Len())
	})
}

func TestCheck_CommandErrors(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		env := newTestEnv(t, testKey, "json", "")
		env.configPath = filepath.Join(env.dir, "absent.yaml")
		_, _, err := env.run(t, "check")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("unknown app", func(t *testing.T) {
		env := newTestEnv(t, testKey, "json", "")
		_, _, err := env.run(t, "check", "--app", "org.nope")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "not configured")
	})

	t.Run("no signing key", func(t *testing.T) {
		env := newTestEnv(t, "", "json", "")
		_, _, err := env.run(t, "check")
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, err.Error(), "REPROWATCH_NSEC")
		assert.Empty(t, env.relay.Published())
	})
}

func TestCheck_Preflight(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")
	env.network = testutil.NewFakeNetwork()

	stdout, _, err := env.run(t, "check", "--preflight")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "no relay reachable")
}

func TestCheck_JSONOutput(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")

	stdout, _, err := env.run(t, "--format", "json", "check")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   engine.Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.Data.RunID)
	require.Len(t, resp.Data.Apps, 1)
	assert.Len(t, resp.Data.Apps[0].Published, 2)
}

func TestCheck_LinksZapstoreRelease(t *testing.T) {
	apps := "  org.example.app:\n    zapstore_appid: org.example.app\n"
	env := newTestEnv(t, testKey, "json", apps)
	env.relay = testutil.NewFakeRelay(relayURL,
		&nostr.Event{ID: "def", PubKey: devPubkey, Kind: 32267, CreatedAt: 1,
			Tags: nostr.Tags{{"d", "org.example.app"}}},
		&nostr.Event{ID: "r1", PubKey: devPubkey, Kind: 30063, CreatedAt: 2,
			Tags: nostr.Tags{{"d", "org.example.app@1.0.0"}, {"a", "32267:" + devPubkey + ":org.example.app"}}},
		&nostr.Event{ID: "r2", PubKey: devPubkey, Kind: 30063, CreatedAt: 3,
			Tags: nostr.Tags{{"d", "org.example.app@1.1.0"}, {"a", "32267:" + devPubkey + ":org.example.app"}}},
	)
	env.network = testutil.NewFakeNetwork(env.relay)

	_, _, err := env.run(t, "check")
	require.NoError(t, err)

	published := env.relay.Published()
	require.Len(t, published, 4)
	a := published[0].Tags.GetFirst([]string{"a"})
	require.NotNil(t, a)
	assert.Equal(t, "30063:"+devPubkey+":org.example.app@1.0.0", a.Value())
}

func TestState_ListsEntries(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")

	stdout, _, err := env.run(t, "state")
	require.NoError(t, err)
	assert.Contains(t, stdout, "No versions recorded.")

	_, _, err = env.run(t, "check")
	require.NoError(t, err)

	stdout, _, err = env.run(t, "--format", "json", "state", "--app", "org.example.app")
	require.NoError(t, err)

	var resp struct {
		Data []stateRow `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, int64(7), resp.Data[0].VersionCode)
	assert.Equal(t, int64(8), resp.Data[1].VersionCode)
	assert.Len(t, resp.Data[0].AssertionID, 64)
}

func TestRelays(t *testing.T) {
	env := newTestEnv(t, testKey, "json", "")

	stdout, _, err := env.run(t, "relays")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok    "+relayURL)

	env.network = testutil.NewFakeNetwork()
	stdout, _, err = env.run(t, "relays")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "FAIL  "+relayURL)
}
