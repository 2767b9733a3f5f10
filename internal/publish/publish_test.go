package publish_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/roach88/reprowatch/internal/event"
	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/publish"
	"github.com/roach88/reprowatch/internal/relay"
	"github.com/roach88/reprowatch/internal/testutil"
)

const (
	testSecret = "0000000000000000000000000000000000000000000000000000000000000001"
	testPubkey = "79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testPayload() event.Payload {
	return event.Assertion(
		model.AppSpec{ID: "org.example.app"},
		model.BuildRecord{Version: "1.0.0", VersionCode: 7, SHA256: "abc123", Reproducible: true},
	)
}

func newPublisher(t *testing.T, relays []*testutil.FakeRelay, opts ...publish.Option) *publish.NostrPublisher {
	t.Helper()
	pool := relay.NewPool(testutil.NewFakeNetwork(relays...).Dial, nil)
	t.Cleanup(func() { _ = pool.Close() })
	opts = append([]publish.Option{publish.WithClock(testutil.NewStepClock(epoch, time.Second))}, opts...)
	return publish.NewNostrPublisher(pool, opts...)
}

func TestParseSecretKey(t *testing.T) {
	nsec, err := nip19.EncodePrivateKey(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"hex", testSecret, testSecret, false},
		{"uppercase hex", "00000000000000000000000000000000000000000000000000000000000000AB", "00000000000000000000000000000000000000000000000000000000000000ab", false},
		{"nsec", nsec, testSecret, false},
		{"padded", "  " + testSecret + "\n", testSecret, false},
		{"empty", "", "", true},
		{"short hex", "abcd", "", true},
		{"not hex", "zz00000000000000000000000000000000000000000000000000000000000001", "", true},
		{"bad nsec", "nsec1notvalid", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := publish.ParseSecretKey(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, publish.ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPublicKey(t *testing.T) {
	pk, err := publish.PublicKey(testSecret)
	require.NoError(t, err)
	assert.Equal(t, testPubkey, pk)
}

func TestSign(t *testing.T) {
	p := testPayload()
	ev, err := publish.Sign(p, testSecret, epoch)
	require.NoError(t, err)

	assert.Equal(t, event.Kind, ev.Kind)
	assert.Equal(t, testPubkey, ev.PubKey)
	assert.Equal(t, nostr.Timestamp(epoch.Unix()), ev.CreatedAt)
	assert.Equal(t, p.Content, ev.Content)
	assert.Len(t, ev.Tags, len(p.Tags))
	assert.Equal(t, ev.GetID(), ev.ID)

	ok, err := ev.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNostrPublisher_AllRelaysAccept(t *testing.T) {
	one := testutil.NewFakeRelay("wss://relay.one")
	two := testutil.NewFakeRelay("wss://relay.two")
	pub := newPublisher(t, []*testutil.FakeRelay{one, two})

	id, err := pub.Publish(context.Background(), testPayload(), testSecret,
		[]string{"wss://relay.one", "wss://relay.two"})
	require.NoError(t, err)

	assert.Len(t, id, 64)
	require.Len(t, one.Published(), 1)
	require.Len(t, two.Published(), 1)
	assert.Equal(t, id, one.Published()[0].ID)
	assert.Equal(t, id, two.Published()[0].ID)
}

func TestNostrPublisher_PartialAcceptance(t *testing.T) {
	ok := testutil.NewFakeRelay("wss://relay.one")
	bad := testutil.NewFakeRelay("wss://relay.two")
	bad.PublishErr = errors.New("blocked: not on whitelist")

	relays := []string{"wss://relay.one", "wss://relay.two", "wss://unreachable.example"}

	t.Run("one accept is enough", func(t *testing.T) {
		pub := newPublisher(t, []*testutil.FakeRelay{ok, bad})
		id, err := pub.Publish(context.Background(), testPayload(), testSecret, relays)
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("require all", func(t *testing.T) {
		pub := newPublisher(t, []*testutil.FakeRelay{ok, bad}, publish.RequireAll(true))
		_, err := pub.Publish(context.Background(), testPayload(), testSecret, relays)
		require.Error(t, err)

		var pe *publish.PublishError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, []string{"wss://relay.one"}, pe.Accepted)
		assert.Len(t, pe.Rejected, 2)
		assert.Contains(t, pe.Rejected["wss://relay.two"], "whitelist")
		assert.Equal(t, event.VariantAssertion, pe.Variant)
	})
}

func TestNostrPublisher_NoRelayAccepts(t *testing.T) {
	bad := testutil.NewFakeRelay("wss://relay.one")
	bad.PublishErr = errors.New("rate-limited")
	pub := newPublisher(t, []*testutil.FakeRelay{bad})

	id, err := pub.Publish(context.Background(), testPayload(), testSecret, []string{"wss://relay.one"})
	assert.Empty(t, id)
	assert.True(t, publish.IsPublishError(err))
	assert.Contains(t, err.Error(), "0 of 1 relays accepted")
}

func TestNostrPublisher_NoRelays(t *testing.T) {
	pub := newPublisher(t, nil)
	_, err := pub.Publish(context.Background(), testPayload(), testSecret, nil)
	assert.ErrorIs(t, err, publish.ErrNoRelays)
	assert.True(t, publish.IsPublishError(err))
}

func TestNostrPublisher_InvalidKey(t *testing.T) {
	one := testutil.NewFakeRelay("wss://relay.one")
	pub := newPublisher(t, []*testutil.FakeRelay{one})

	_, err := pub.Publish(context.Background(), testPayload(), "not-a-key", []string{"wss://relay.one"})
	assert.ErrorIs(t, err, publish.ErrInvalidKey)
	assert.Empty(t, one.Published())
}

func TestDryRunPublisher(t *testing.T) {
	var out bytes.Buffer
	clock := testutil.NewStepClock(epoch, 0)
	d := &publish.DryRunPublisher{Out: &out, Clock: clock}

	id, err := d.Publish(context.Background(), testPayload(), testSecret, []string{"wss://relay.one"})
	require.NoError(t, err)
	assert.Len(t, id, 64)

	var rec struct {
		Variant string      `json:"variant"`
		Relays  []string    `json:"relays"`
		Event   nostr.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &rec))
	assert.Equal(t, "assertion", rec.Variant)
	assert.Equal(t, []string{"wss://relay.one"}, rec.Relays)
	assert.Equal(t, id, rec.Event.ID)
	assert.Equal(t, testPubkey, rec.Event.PubKey)
	assert.Empty(t, rec.Event.Sig)
	assert.Equal(t, rec.Event.GetID(), id)

	// Same payload, same clock: same preview id.
	again, err := d.Publish(context.Background(), testPayload(), testSecret, nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestDryRunPublisher_ReplayAfterReset(t *testing.T) {
	clock := testutil.NewStepClock(epoch, time.Second)
	d := &publish.DryRunPublisher{Out: &bytes.Buffer{}, Clock: clock}

	publishTwice := func() []string {
		var ids []string
		for i := 0; i < 2; i++ {
			id, err := d.Publish(context.Background(), testPayload(), testSecret, nil)
			require.NoError(t, err)
			ids = append(ids, id)
		}
		return ids
	}

	first := publishTwice()
	assert.NotEqual(t, first[0], first[1], "later created_at gives a new id")
	assert.Equal(t, epoch.Add(2*time.Second), clock.Peek())

	clock.Reset()
	assert.Equal(t, epoch, clock.Peek())
	assert.Equal(t, first, publishTwice())
}

func TestDryRunPublisher_WithoutKey(t *testing.T) {
	d := &publish.DryRunPublisher{Clock: testutil.NewStepClock(epoch, 0)}
	id, err := d.Publish(context.Background(), testPayload(), "", nil)
	require.NoError(t, err)
	assert.Len(t, id, 64)
}

func TestThrottled(t *testing.T) {
	rec := &testutil.RecordingPublisher{}
	p := publish.Throttled(rec, rate.NewLimiter(rate.Every(time.Hour), 1))

	_, err := p.Publish(context.Background(), testPayload(), "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Publish(ctx, testPayload(), "", nil)
	require.Error(t, err)
	assert.True(t, publish.IsPublishError(err))
	assert.Equal(t, 1, rec.Attempts())
}

func TestThrottled_NilLimiter(t *testing.T) {
	rec := &testutil.RecordingPublisher{}
	assert.Same(t, publish.Publisher(rec), publish.Throttled(rec, nil))
}
