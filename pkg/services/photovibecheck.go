package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/vibecheck"
)

// PhotoVibeCheckName is the service name in the gateway registry.
const PhotoVibeCheckName = "photo-vibe-check"

// PhotoVibeCheck fronts the vibe-check pipeline and manages promotional
// reference images on disk.
type PhotoVibeCheck struct {
	store    *guilddata.Store
	events   *guilddata.EventStore
	pipeline *vibecheck.Pipeline
	client   *http.Client
	now      func() time.Time
}

// NewPhotoVibeCheck builds the photo-vibe-check backend.
func NewPhotoVibeCheck(store *guilddata.Store, pipeline *vibecheck.Pipeline, downloadTimeout time.Duration) *Backend {
	if downloadTimeout <= 0 {
		downloadTimeout = 15 * time.Second
	}
	s := &PhotoVibeCheck{
		store:    store,
		events:   guilddata.NewEventStore(store),
		pipeline: pipeline,
		client:   &http.Client{Timeout: downloadTimeout},
		now:      time.Now,
	}
	return newBackend(PhotoVibeCheckName, []toolDef{
		{"submit_photo_dm", "Run a vibe-check on a submitted photo", s.submitPhotoDM},
		{"add_pre_event_photos", "Store promotional reference images", s.addPreEventPhotos},
		{"get_photo_status", "Report a user's vibe-check status", s.getPhotoStatus},
		{"activate_photo_collection", "Enable photo submissions for an event", s.activateCollection},
		{"deactivate_photo_collection", "Disable photo submissions for an event", s.deactivateCollection},
		{"get_vibe_checks", "Fetch every vibe-check entry on an event", s.getVibeChecks},
		{"remove_photo", "Remove a user's vibe-check entry", s.removePhoto},
		{"list_promotion_images", "List stored promotional references", s.listPromotionImages},
		{"generate_photo_slideshow", "Order checked photos into a slideshow", s.generateSlideshow},
	})
}

func (s *PhotoVibeCheck) submitPhotoDM(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id", "photo_url"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")

	if !s.collectionActive(guildID, eventID) {
		return nil, errs.AccessDenied("photo collection is not active for event " + eventID)
	}

	entry, err := s.pipeline.Submit(ctx, vibecheck.SubmitRequest{
		GuildID:  guildID,
		EventID:  eventID,
		UserID:   stringArg(args, "user_id"),
		PhotoURL: stringArg(args, "photo_url"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"event_id":          eventID,
		"user_id":           entry.UserID,
		"vibe_score":        entry.VibeScore,
		"confidence_score":  entry.ConfidenceScore,
		"vibe_analysis":     entry.VibeAnalysis,
		"promotional_match": entry.PromotionalMatch,
		"reasoning":         entry.Reasoning,
		"method":            entry.Method,
	}, nil
}

func (s *PhotoVibeCheck) addPreEventPhotos(ctx context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id"); err != nil {
		return nil, err
	}
	urls := sliceArg(args, "photo_urls")
	if len(urls) == 0 {
		urls = sliceArg(args, "photo_url")
	}
	if len(urls) == 0 {
		return nil, errs.Validation("photo_urls", "at least one URL is required")
	}

	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")
	dir := s.store.PromotionDir(guildID, eventID, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.IO("create promotion directory", err)
	}

	saved := []any{}
	failed := []any{}
	for _, url := range urls {
		path, err := s.downloadTo(ctx, url, dir)
		if err != nil {
			failed = append(failed, map[string]any{"url": url, "error": err.Error()})
			continue
		}
		saved = append(saved, path)
	}
	return map[string]any{
		"event_id": eventID,
		"saved":    saved,
		"failed":   failed,
		"count":    len(saved),
	}, nil
}

func (s *PhotoVibeCheck) getPhotoStatus(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")

	record, err := s.events.Load(guildID, eventID)
	if err != nil {
		return nil, err
	}
	checks, _ := record["vibe_checks"].([]any)
	var mine map[string]any
	for _, c := range checks {
		if obj, ok := c.(map[string]any); ok && obj["user_id"] == userID {
			mine = obj
		}
	}
	return map[string]any{
		"event_id":          eventID,
		"user_id":           userID,
		"collection_active": s.collectionActive(guildID, eventID),
		"submitted":         mine != nil,
		"vibe_check":        mine,
	}, nil
}

func (s *PhotoVibeCheck) activateCollection(_ context.Context, args map[string]any) (map[string]any, error) {
	return s.setCollectionActive(args, true)
}

func (s *PhotoVibeCheck) deactivateCollection(_ context.Context, args map[string]any) (map[string]any, error) {
	return s.setCollectionActive(args, false)
}

func (s *PhotoVibeCheck) setCollectionActive(args map[string]any, active bool) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	if err := s.events.SetNestedField(guildID, eventID, "photo_settings.collection_active", active); err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "collection_active": active}, nil
}

func (s *PhotoVibeCheck) getVibeChecks(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	record, err := s.events.Load(stringArg(args, "guild_id"), stringArg(args, "event_id"))
	if err != nil {
		return nil, err
	}
	checks, _ := record["vibe_checks"].([]any)
	return map[string]any{"event_id": stringArg(args, "event_id"), "vibe_checks": checks, "count": len(checks)}, nil
}

func (s *PhotoVibeCheck) removePhoto(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id", "user_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")
	userID := stringArg(args, "user_id")
	removed, err := s.events.RemoveFromArray(guildID, eventID, "vibe_checks",
		func(obj map[string]any) bool { return obj["user_id"] == userID })
	if err != nil {
		return nil, err
	}
	return map[string]any{"event_id": eventID, "user_id": userID, "removed": removed}, nil
}

func (s *PhotoVibeCheck) listPromotionImages(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	guildID := stringArg(args, "guild_id")
	eventID := stringArg(args, "event_id")

	images := []any{}
	root := s.store.EventDir(guildID, eventID)
	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return nil, errs.IO("read event directory", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		promoDir := s.store.PromotionDir(guildID, eventID, entry.Name())
		files, err := os.ReadDir(promoDir)
		if err != nil {
			continue
		}
		for _, file := range files {
			if !file.IsDir() {
				images = append(images, filepath.Join(promoDir, file.Name()))
			}
		}
	}
	return map[string]any{"event_id": eventID, "images": images, "count": len(images)}, nil
}

func (s *PhotoVibeCheck) generateSlideshow(_ context.Context, args map[string]any) (map[string]any, error) {
	if err := requireArgs(args, "guild_id", "event_id"); err != nil {
		return nil, err
	}
	record, err := s.events.Load(stringArg(args, "guild_id"), stringArg(args, "event_id"))
	if err != nil {
		return nil, err
	}
	checks, _ := record["vibe_checks"].([]any)

	// Highest vibe score first; ties keep submission order.
	slides := []map[string]any{}
	for _, c := range checks {
		obj, ok := c.(map[string]any)
		if !ok {
			continue
		}
		slides = append(slides, obj)
	}
	for i := 1; i < len(slides); i++ {
		for j := i; j > 0 && score(slides[j]) > score(slides[j-1]); j-- {
			slides[j], slides[j-1] = slides[j-1], slides[j]
		}
	}

	out := make([]any, 0, len(slides))
	for i, slide := range slides {
		out = append(out, map[string]any{
			"position":   i + 1,
			"user_id":    slide["user_id"],
			"photo_url":  slide["photo_url"],
			"vibe_score": slide["vibe_score"],
		})
	}
	return map[string]any{"event_id": stringArg(args, "event_id"), "slides": out, "count": len(out)}, nil
}

func score(obj map[string]any) float64 {
	v, _ := obj["vibe_score"].(float64)
	return v
}

// downloadTo fetches one promotional image into dir with a timestamped
// name so repeated uploads never collide.
func (s *PhotoVibeCheck) downloadTo(ctx context.Context, url, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errs.Validation("photo_url", "invalid URL: "+err.Error())
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", errs.Upstream("download promotional image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errs.Upstream(fmt.Sprintf("download promotional image: status %d", resp.StatusCode), nil)
	}

	base := filepath.Base(req.URL.Path)
	if base == "." || base == "/" || base == "" {
		base = "image.jpg"
	}
	name := s.now().UTC().Format("20060102_150405") + "_" + base
	path := filepath.Join(dir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", errs.IO("create promotional image file", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(path)
		return "", errs.IO("write promotional image file", err)
	}
	return path, nil
}

// collectionActive defaults to true until an event explicitly deactivates.
func (s *PhotoVibeCheck) collectionActive(guildID, eventID string) bool {
	record, err := s.events.Load(guildID, eventID)
	if err != nil {
		return true
	}
	settings := mapArg(record, "photo_settings")
	if active, ok := settings["collection_active"].(bool); ok {
		return active
	}
	return true
}
