package vibecheck

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
)

type fakeVision struct {
	requests []llm.VisionRequest
	verdict  *llm.Verdict
	err      error
}

func (f *fakeVision) CompareImages(_ context.Context, req llm.VisionRequest) (*llm.Verdict, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.verdict != nil {
		return f.verdict, nil
	}
	return &llm.Verdict{VibeScore: 0.8, ConfidenceScore: 0.9, VibeAnalysis: "great match"}, nil
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.NRGBA{R: 255, A: 128}) // partial transparency
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func photoServer(t *testing.T, status int, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	pipeline *Pipeline
	store    *guilddata.Store
	events   *guilddata.EventStore
	vision   *fakeVision
	clock    *time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store := guilddata.NewStore(filepath.Join(t.TempDir(), "data"))
	vision := &fakeVision{}
	p := New(store, vision, opts)

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	return &fixture{
		pipeline: p,
		store:    store,
		events:   guilddata.NewEventStore(store),
		vision:   vision,
		clock:    &now,
	}
}

func (f *fixture) addReference(t *testing.T, guildID, eventID, name string) {
	t.Helper()
	dir := f.store.PromotionDir(guildID, eventID, "creator")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), jpegBytes(t), 0o644))
}

func (f *fixture) vibeChecks(t *testing.T, guildID, eventID string) []any {
	t.Helper()
	record, err := f.events.Load(guildID, eventID)
	require.NoError(t, err)
	checks, _ := record["vibe_checks"].([]any)
	return checks
}

func TestShortCircuitWithoutReferences(t *testing.T) {
	f := newFixture(t, Options{})

	entry, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: "http://unused.invalid/p.jpg",
	})
	require.NoError(t, err)

	assert.Zero(t, entry.VibeScore)
	assert.Zero(t, entry.ConfidenceScore)
	assert.Equal(t, NoReferencesMessage, entry.Message)
	assert.Equal(t, MethodNoReferences, entry.Method)
	assert.Empty(t, f.vision.requests, "no model call without references")

	checks := f.vibeChecks(t, "g1", "42")
	require.Len(t, checks, 1)
	check := checks[0].(map[string]any)
	assert.Equal(t, "u1", check["user_id"])
	assert.Contains(t, check["message"], "no promotional images")
}

func TestSubmitScoresAgainstReferences(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	f.addReference(t, "g1", "42", "b.jpg")
	srv := photoServer(t, http.StatusOK, jpegBytes(t))

	entry, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg",
	})
	require.NoError(t, err)

	assert.InDelta(t, 0.8, entry.VibeScore, 1e-9)
	assert.Equal(t, MethodVisionModel, entry.Method)

	require.Len(t, f.vision.requests, 1)
	req := f.vision.requests[0]
	require.Len(t, req.Images, 3)
	assert.Equal(t, "submitted photo", req.Images[0].Label)
	assert.Equal(t, "promotional reference 1", req.Images[1].Label)
	assert.Equal(t, "promotional reference 2", req.Images[2].Label)
	assert.Contains(t, req.SystemPrompt, "vibe_score")

	checks := f.vibeChecks(t, "g1", "42")
	require.Len(t, checks, 1)
}

func TestReplaceOnMatchKeepsLatestEntry(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	srv := photoServer(t, http.StatusOK, jpegBytes(t))

	scores := []float64{0.2, 0.5, 0.9}
	for _, score := range scores {
		f.vision.verdict = &llm.Verdict{VibeScore: score, ConfidenceScore: 1}
		_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
			GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg",
		})
		require.NoError(t, err)
		*f.clock = f.clock.Add(2 * time.Hour)
	}

	// A second user's entry must survive alongside.
	f.vision.verdict = &llm.Verdict{VibeScore: 0.4, ConfidenceScore: 1}
	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u2", PhotoURL: srv.URL + "/p.jpg",
	})
	require.NoError(t, err)

	checks := f.vibeChecks(t, "g1", "42")
	require.Len(t, checks, 2)

	byUser := map[string]map[string]any{}
	for _, c := range checks {
		obj := c.(map[string]any)
		byUser[obj["user_id"].(string)] = obj
	}
	assert.InDelta(t, 0.9, byUser["u1"]["vibe_score"], 1e-9, "only the latest submission survives")
	assert.InDelta(t, 0.4, byUser["u2"]["vibe_score"], 1e-9)
}

func TestMinIntervalRateLimitsResubmission(t *testing.T) {
	f := newFixture(t, Options{MinInterval: time.Hour})
	f.addReference(t, "g1", "42", "a.jpg")
	srv := photoServer(t, http.StatusOK, jpegBytes(t))

	req := SubmitRequest{GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg"}
	_, err := f.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)

	*f.clock = f.clock.Add(10 * time.Minute)
	_, err = f.pipeline.Submit(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, errs.KindRateLimited, errs.KindOf(err))

	// Another user is unaffected.
	other := req
	other.UserID = "u2"
	_, err = f.pipeline.Submit(context.Background(), other)
	require.NoError(t, err)

	// After the interval the original user may submit again.
	*f.clock = f.clock.Add(time.Hour)
	_, err = f.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)
}

func TestDownloadFailureAborts(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	srv := photoServer(t, http.StatusNotFound, nil)

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Empty(t, f.vibeChecks(t, "g1", "42"), "aborted submissions persist nothing")
	assert.Empty(t, f.vision.requests)
}

func TestNonJPEGSubmissionReencoded(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	srv := photoServer(t, http.StatusOK, pngBytes(t))

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.png",
	})
	require.NoError(t, err)

	require.Len(t, f.vision.requests, 1)
	submitted := f.vision.requests[0].Images[0]
	assert.Equal(t, "image/jpeg", submitted.MIME)
	_, err = jpeg.Decode(bytes.NewReader(submitted.Data))
	assert.NoError(t, err, "re-encoded submission must be valid JPEG")
}

func TestUndecodableBytesKeptAsOriginal(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	garbage := []byte("definitely not an image")
	srv := photoServer(t, http.StatusOK, garbage)

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.bin",
	})
	require.NoError(t, err)

	require.Len(t, f.vision.requests, 1)
	assert.Equal(t, garbage, f.vision.requests[0].Images[0].Data)
}

func TestReferenceCap(t *testing.T) {
	f := newFixture(t, Options{})
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg", "g.jpg"} {
		f.addReference(t, "g1", "42", name)
	}
	srv := photoServer(t, http.StatusOK, jpegBytes(t))

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg",
	})
	require.NoError(t, err)

	require.Len(t, f.vision.requests, 1)
	assert.Len(t, f.vision.requests[0].Images, 6, "submission plus at most five references")
}

func TestNonImageFilesOutsidePromotionIgnored(t *testing.T) {
	f := newFixture(t, Options{})
	// event.json and a stray text file must not count as references.
	require.NoError(t, f.events.SetField("g1", "42", "title", "Taco Night"))
	dir := f.store.PromotionDir("g1", "42", "creator")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	entry, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: "http://unused.invalid/p.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, MethodNoReferences, entry.Method)
}

func TestVisionFailureDegradesToZeroEntry(t *testing.T) {
	f := newFixture(t, Options{})
	f.addReference(t, "g1", "42", "a.jpg")
	f.vision.err = errs.UpstreamTimeout("model call", context.DeadlineExceeded)
	srv := photoServer(t, http.StatusOK, jpegBytes(t))

	entry, err := f.pipeline.Submit(context.Background(), SubmitRequest{
		GuildID: "g1", EventID: "42", UserID: "u1", PhotoURL: srv.URL + "/p.jpg",
	})
	require.NoError(t, err, "model failure degrades, it does not abort")

	assert.Zero(t, entry.VibeScore)
	assert.Zero(t, entry.ConfidenceScore)
	assert.Contains(t, entry.Reasoning, "model call failed")

	checks := f.vibeChecks(t, "g1", "42")
	require.Len(t, checks, 1)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.pipeline.Submit(context.Background(), SubmitRequest{GuildID: "g1", EventID: "42", UserID: "u1"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = f.pipeline.Submit(context.Background(), SubmitRequest{PhotoURL: "http://x/p.jpg"})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}
