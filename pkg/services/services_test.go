package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
	"github.com/davidmiura/tlt-sub000/pkg/vibecheck"
)

// connect runs a backend over in-memory transports and returns a session.
func connect(t *testing.T, b *Backend) *mcpsdk.ClientSession {
	t.Helper()
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = b.Server().Run(ctx, serverTransport) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// call invokes a tool and decodes the JSON text result.
func call(t *testing.T, session *mcpsdk.ClientSession, tool string, args map[string]any) (map[string]any, string) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: tool, Arguments: args})
	require.NoError(t, err)

	text := ""
	for _, content := range result.Content {
		if tc, ok := content.(*mcpsdk.TextContent); ok {
			text = tc.Text
			break
		}
	}
	if result.IsError {
		return nil, text
	}
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload, ""
}

func newTestStore(t *testing.T) *guilddata.Store {
	t.Helper()
	return guilddata.NewStore(filepath.Join(t.TempDir(), "data"))
}

func TestEventManagerCreateThenSave(t *testing.T) {
	store := newTestStore(t)
	session := connect(t, NewEventManager(store))

	created, errText := call(t, session, "create_event", map[string]any{
		"guild_id":   "100",
		"title":      "Launch",
		"created_by": "7",
		"location":   "HQ",
		"start_time": "2030-01-01T18:00:00Z",
		"metadata":   map[string]any{"message_id": "42"},
	})
	require.Empty(t, errText)
	assert.Equal(t, "42", created["event_id"], "event id derives from the originating message")

	saved, errText := call(t, session, "save_event_to_guild_data", map[string]any{
		"guild_id": "100",
		"event_id": "42",
		"title":    "Launch",
		"rsvp_settings": map[string]any{
			"emoji": "white_check_mark",
		},
	})
	require.Empty(t, errText)
	assert.Equal(t, true, saved["saved"])

	record, err := guilddata.NewEventStore(store).Load("100", "42")
	require.NoError(t, err)
	data, ok := record["event_manager_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Launch", data["title"])
	assert.Equal(t, "HQ", data["location"], "save merges, it does not replace")
	assert.Equal(t, "active", record["status"])

	// The creator's state journal gains the create_event result.
	entries, err := guilddata.NewUserStore(store).Load("100", "42", "7")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestEventManagerLifecycleTools(t *testing.T) {
	store := newTestStore(t)
	session := connect(t, NewEventManager(store))

	_, errText := call(t, session, "create_event", map[string]any{
		"guild_id": "100", "event_id": "42", "title": "Taco Night",
		"description": "tacos", "start_time": "2030-06-01T18:00:00Z",
	})
	require.Empty(t, errText)
	_, errText = call(t, session, "create_event", map[string]any{
		"guild_id": "100", "event_id": "43", "title": "Retro", "start_time": "2020-01-01T18:00:00Z",
	})
	require.Empty(t, errText)

	list, errText := call(t, session, "list_all_events", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.EqualValues(t, 2, list["count"])

	upcoming, errText := call(t, session, "get_upcoming_events", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, upcoming["count"], "past events are excluded")

	found, errText := call(t, session, "search_events", map[string]any{"guild_id": "100", "query": "taco"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, found["count"])

	updated, errText := call(t, session, "update_event", map[string]any{
		"guild_id": "100", "event_id": "42", "location": "patio",
	})
	require.Empty(t, errText)
	assert.Contains(t, updated["updated_fields"], "location")

	deleted, errText := call(t, session, "delete_event", map[string]any{"guild_id": "100", "event_id": "43"})
	require.Empty(t, errText)
	assert.Equal(t, "deleted", deleted["status"])

	_, errText = call(t, session, "get_event_info", map[string]any{"guild_id": "100", "event_id": "404"})
	assert.Contains(t, errText, "not-found")
}

func TestEventManagerReminderValidation(t *testing.T) {
	session := connect(t, NewEventManager(newTestStore(t)))

	_, errText := call(t, session, "set_event_reminder", map[string]any{
		"guild_id": "100", "event_id": "42", "remind_at": "tomorrow-ish",
	})
	assert.Contains(t, errText, "RFC3339")

	result, errText := call(t, session, "set_event_reminder", map[string]any{
		"guild_id": "100", "event_id": "42", "remind_at": "2030-01-01T17:00:00Z",
	})
	require.Empty(t, errText)
	assert.NotNil(t, result["reminder"])
}

func TestRSVPAddReplaceRemove(t *testing.T) {
	store := newTestStore(t)
	session := connect(t, NewRSVPService(store))

	args := map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
		"rsvp_type": "add", "emoji": "✅",
	}
	_, errText := call(t, session, "process_rsvp", args)
	require.Empty(t, errText)

	// Re-adding the same emoji replaces instead of duplicating.
	_, errText = call(t, session, "process_rsvp", args)
	require.Empty(t, errText)

	list, errText := call(t, session, "list_rsvps", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, list["count"])

	status, errText := call(t, session, "get_rsvp_status", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
	})
	require.Empty(t, errText)
	assert.Equal(t, true, status["attending"])

	remove := map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
		"rsvp_type": "remove", "emoji": "✅",
	}
	removed, errText := call(t, session, "process_rsvp", remove)
	require.Empty(t, errText)
	assert.EqualValues(t, 1, removed["removed"])

	record, err := guilddata.NewEventStore(store).Load("100", "42")
	require.NoError(t, err)
	entries, _ := record["processed_rsvps"].([]any)
	assert.Empty(t, entries)
}

func TestRSVPAnalyticsAndSummary(t *testing.T) {
	session := connect(t, NewRSVPService(newTestStore(t)))

	for _, rsvp := range []map[string]any{
		{"user_id": "1", "emoji": "✅"},
		{"user_id": "2", "emoji": "✅"},
		{"user_id": "2", "emoji": "🌮"},
	} {
		rsvp["guild_id"] = "100"
		rsvp["event_id"] = "42"
		rsvp["rsvp_type"] = "add"
		_, errText := call(t, session, "process_rsvp", rsvp)
		require.Empty(t, errText)
	}

	analytics, errText := call(t, session, "get_rsvp_analytics", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	assert.EqualValues(t, 3, analytics["total"])
	assert.EqualValues(t, 2, analytics["unique_users"])

	summary, errText := call(t, session, "get_attendance_summary", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	assert.EqualValues(t, 2, summary["count"])
}

func TestRSVPEmojiMappingRoundTrip(t *testing.T) {
	session := connect(t, NewRSVPService(newTestStore(t)))

	_, errText := call(t, session, "set_rsvp_emoji_mapping", map[string]any{
		"guild_id": "100", "event_id": "42",
		"mapping": map[string]any{"✅": "attending", "❌": "declined"},
	})
	require.Empty(t, errText)

	got, errText := call(t, session, "get_emoji_mapping", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	mapping, ok := got["mapping"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "attending", mapping["✅"])
}

func TestGuildManagerRegistryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	session := connect(t, NewGuildManager(store))

	_, errText := call(t, session, "register_guild", map[string]any{
		"guild_id": "100", "guild_name": "tlt", "user_id": "7",
		"settings": map[string]any{"timezone": "UTC"},
	})
	require.Empty(t, errText)

	info, errText := call(t, session, "get_guild_info", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.Equal(t, "tlt", info["guild_name"])

	_, errText = call(t, session, "update_guild_settings", map[string]any{
		"guild_id": "100", "settings": map[string]any{"locale": "en"},
	})
	require.Empty(t, errText)

	info, errText = call(t, session, "get_guild_info", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	settings, ok := info["settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "UTC", settings["timezone"], "update merges instead of replacing")
	assert.Equal(t, "en", settings["locale"])

	status, errText := call(t, session, "get_guild_status", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.Equal(t, true, status["registered"])

	_, errText = call(t, session, "deregister_guild", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)

	_, errText = call(t, session, "get_guild_info", map[string]any{"guild_id": "100"})
	assert.Contains(t, errText, "not registered")

	_, errText = call(t, session, "deregister_guild", map[string]any{"guild_id": "100"})
	assert.Contains(t, errText, "not registered")
}

type stubVision struct{ verdict llm.Verdict }

func (s *stubVision) CompareImages(context.Context, llm.VisionRequest) (*llm.Verdict, error) {
	return &s.verdict, nil
}

func TestPhotoVibeCheckSubmitAndStatus(t *testing.T) {
	store := newTestStore(t)
	pipeline := vibecheck.New(store, &stubVision{verdict: llm.Verdict{VibeScore: 0.7, ConfidenceScore: 0.8}}, vibecheck.Options{})
	session := connect(t, NewPhotoVibeCheck(store, pipeline, time.Second))

	// No promotion images: pipeline short-circuits but still persists.
	result, errText := call(t, session, "submit_photo_dm", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
		"photo_url": "http://unused.invalid/p.jpg",
	})
	require.Empty(t, errText)
	assert.EqualValues(t, 0, result["vibe_score"])
	assert.Equal(t, vibecheck.MethodNoReferences, result["method"])

	status, errText := call(t, session, "get_photo_status", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
	})
	require.Empty(t, errText)
	assert.Equal(t, true, status["submitted"])

	checks, errText := call(t, session, "get_vibe_checks", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, checks["count"])

	removed, errText := call(t, session, "remove_photo", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
	})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, removed["removed"])
}

func TestPhotoCollectionGate(t *testing.T) {
	store := newTestStore(t)
	pipeline := vibecheck.New(store, &stubVision{}, vibecheck.Options{})
	session := connect(t, NewPhotoVibeCheck(store, pipeline, time.Second))

	_, errText := call(t, session, "deactivate_photo_collection", map[string]any{
		"guild_id": "100", "event_id": "42",
	})
	require.Empty(t, errText)

	_, errText = call(t, session, "submit_photo_dm", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
		"photo_url": "http://unused.invalid/p.jpg",
	})
	assert.Contains(t, errText, "not active")

	_, errText = call(t, session, "activate_photo_collection", map[string]any{
		"guild_id": "100", "event_id": "42",
	})
	require.Empty(t, errText)

	_, errText = call(t, session, "submit_photo_dm", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "8",
		"photo_url": "http://unused.invalid/p.jpg",
	})
	assert.Empty(t, errText)
}

func TestAddPreEventPhotosDownloads(t *testing.T) {
	store := newTestStore(t)
	pipeline := vibecheck.New(store, &stubVision{}, vibecheck.Options{})
	session := connect(t, NewPhotoVibeCheck(store, pipeline, time.Second))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	t.Cleanup(srv.Close)

	result, errText := call(t, session, "add_pre_event_photos", map[string]any{
		"guild_id": "100", "event_id": "42", "user_id": "7",
		"photo_urls": []any{srv.URL + "/promo.jpg", srv.URL + "/missing.jpg"},
	})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, result["count"])
	failed, _ := result["failed"].([]any)
	assert.Len(t, failed, 1)

	files, err := os.ReadDir(store.PromotionDir("100", "42", "7"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Name(), "promo.jpg")

	listed, errText := call(t, session, "list_promotion_images", map[string]any{"guild_id": "100", "event_id": "42"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, listed["count"])
}

func TestCanvasPlaceGetExport(t *testing.T) {
	session := connect(t, NewVibeCanvas(newTestStore(t)))

	placed, errText := call(t, session, "canvas_place_bit", map[string]any{
		"guild_id": "100", "user_id": "8", "x": 3, "y": 4, "color": "#FF4500",
	})
	require.Empty(t, errText)
	assert.NotNil(t, placed["bit"])

	got, errText := call(t, session, "canvas_get", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	bits, ok := got["bits"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, bits, "3,4")
	assert.EqualValues(t, 64, got["width"])

	userBits, errText := call(t, session, "canvas_get_user_bits", map[string]any{"guild_id": "100", "user_id": "8"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, userBits["count"])

	exported, errText := call(t, session, "canvas_export_image", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.Equal(t, "png", exported["format"])
	assert.NotEmpty(t, exported["image_base64"])

	history, errText := call(t, session, "canvas_get_history", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	assert.EqualValues(t, 1, history["count"])
}

func TestCanvasBoundsAndLock(t *testing.T) {
	session := connect(t, NewVibeCanvas(newTestStore(t)))

	_, errText := call(t, session, "canvas_place_bit", map[string]any{
		"guild_id": "100", "user_id": "8", "x": 999, "y": 0, "color": "#000000",
	})
	assert.Contains(t, errText, "outside")

	_, errText = call(t, session, "canvas_lock", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)

	_, errText = call(t, session, "canvas_place_bit", map[string]any{
		"guild_id": "100", "user_id": "8", "x": 1, "y": 1, "color": "#000000",
	})
	assert.Contains(t, errText, "locked")

	_, errText = call(t, session, "canvas_unlock", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)

	_, errText = call(t, session, "canvas_place_bit", map[string]any{
		"guild_id": "100", "user_id": "8", "x": 1, "y": 1, "color": "#000000",
	})
	assert.Empty(t, errText)
}

func TestCanvasResizeDropsOutOfBoundsBits(t *testing.T) {
	session := connect(t, NewVibeCanvas(newTestStore(t)))

	for _, coords := range [][2]int{{1, 1}, {30, 30}} {
		_, errText := call(t, session, "canvas_place_bit", map[string]any{
			"guild_id": "100", "user_id": "8", "x": coords[0], "y": coords[1], "color": "#000000",
		})
		require.Empty(t, errText)
	}

	_, errText := call(t, session, "canvas_set_size", map[string]any{"guild_id": "100", "width": 16, "height": 16})
	require.Empty(t, errText)

	got, errText := call(t, session, "canvas_get", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	bits, _ := got["bits"].(map[string]any)
	assert.Contains(t, bits, "1,1")
	assert.NotContains(t, bits, "30,30")
}

func TestCanvasPaletteValidation(t *testing.T) {
	session := connect(t, NewVibeCanvas(newTestStore(t)))

	_, errText := call(t, session, "canvas_set_palette", map[string]any{
		"guild_id": "100", "palette": []any{"#GGGGGG"},
	})
	assert.Contains(t, errText, "invalid color")

	_, errText = call(t, session, "canvas_set_palette", map[string]any{
		"guild_id": "100", "palette": []any{"#112233", "#445566"},
	})
	require.Empty(t, errText)

	got, errText := call(t, session, "canvas_get_palette", map[string]any{"guild_id": "100"})
	require.Empty(t, errText)
	palette, _ := got["palette"].([]any)
	assert.Len(t, palette, 2)
}
