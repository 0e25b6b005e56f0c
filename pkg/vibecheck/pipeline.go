// Package vibecheck scores submitted photos against an event's promotional
// reference images. The pipeline discovers references on disk, downloads
// the submission, normalises it to JPEG, asks a vision model for a
// structured verdict, and persists the result into the event record's
// vibe_checks array with replace-on-match semantics per user.
package vibecheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/guilddata"
	"github.com/davidmiura/tlt-sub000/pkg/llm"
)

// Method tags recorded with each vibe-check entry.
const (
	MethodVisionModel  = "vision_model"
	MethodNoReferences = "no_references"
)

// NoReferencesMessage is the short-circuit verdict text when an event has
// no promotional images.
const NoReferencesMessage = "no promotional images available"

// maxDownloadBytes caps a submitted photo. Larger responses abort.
const maxDownloadBytes = 20 << 20

// Options tune the pipeline. Zero values take the built-in defaults.
type Options struct {
	// MinInterval is the per-(user,event) minimum gap between submissions.
	MinInterval time.Duration

	// DownloadTimeout bounds fetching the submitted photo.
	DownloadTimeout time.Duration

	// MaxReferences caps how many promotional images are loaded.
	MaxReferences int

	// JPEGQuality is used when re-encoding non-JPEG submissions.
	JPEGQuality int
}

func (o Options) withDefaults() Options {
	if o.MinInterval == 0 {
		o.MinInterval = time.Hour
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 15 * time.Second
	}
	if o.MaxReferences <= 0 {
		o.MaxReferences = 5
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = 95
	}
	return o
}

// SubmitRequest is one photo submission, typically arriving through the
// photo-vibe-check service's submit_photo_dm tool.
type SubmitRequest struct {
	GuildID  string
	EventID  string
	UserID   string
	PhotoURL string
}

// Entry is the persisted vibe-check record for one user.
type Entry struct {
	UserID           string  `json:"user_id"`
	PhotoURL         string  `json:"photo_url"`
	VibeScore        float64 `json:"vibe_score"`
	ConfidenceScore  float64 `json:"confidence_score"`
	VibeAnalysis     string  `json:"vibe_analysis"`
	PromotionalMatch string  `json:"promotional_match"`
	Reasoning        string  `json:"reasoning"`
	Message          string  `json:"message,omitempty"`
	Timestamp        string  `json:"timestamp"`
	Method           string  `json:"method"`
}

// Pipeline runs photo vibe-checks. Submissions for distinct (user,event)
// pairs run in parallel; the same pair serialises so replace-on-match
// persistence cannot interleave.
type Pipeline struct {
	store  *guilddata.Store
	events *guilddata.EventStore
	vision llm.Vision
	client *http.Client
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	pairLocks  map[string]*sync.Mutex
	lastSubmit map[string]time.Time

	now func() time.Time
}

// New creates the pipeline over a guild-data store and a vision model.
func New(store *guilddata.Store, vision llm.Vision, opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		store:      store,
		events:     guilddata.NewEventStore(store),
		vision:     vision,
		client:     &http.Client{Timeout: opts.DownloadTimeout},
		opts:       opts,
		logger:     slog.Default().With("component", "vibecheck"),
		pairLocks:  make(map[string]*sync.Mutex),
		lastSubmit: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Submit runs the full pipeline for one photo. Model failures degrade to a
// zero-score entry; only input validation, rate limiting, and download
// failures return errors. The returned entry is what was persisted.
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*Entry, error) {
	if req.GuildID == "" || req.EventID == "" || req.UserID == "" {
		return nil, errs.Validation("submission", "guild_id, event_id and user_id are required")
	}
	if req.PhotoURL == "" {
		return nil, errs.Validation("photo_url", "is required")
	}

	key := req.GuildID + "|" + req.EventID + "|" + req.UserID
	lock := p.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := p.checkInterval(key); err != nil {
		return nil, err
	}

	refs, err := p.discoverReferences(req.GuildID, req.EventID)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		entry := p.newEntry(req, &llm.Verdict{VibeAnalysis: NoReferencesMessage}, MethodNoReferences)
		entry.Message = NoReferencesMessage
		p.persist(req, entry)
		p.markSubmitted(key)
		return entry, nil
	}

	photo, err := p.download(ctx, req.PhotoURL)
	if err != nil {
		return nil, err
	}
	photo = p.normalize(photo)

	verdict := p.score(ctx, photo, refs)
	entry := p.newEntry(req, verdict, MethodVisionModel)
	p.persist(req, entry)
	p.markSubmitted(key)
	return entry, nil
}

// score asks the vision model for a verdict. Any failure becomes a
// zero-score verdict carrying the error text, never an error.
func (p *Pipeline) score(ctx context.Context, photo normalized, refs []reference) *llm.Verdict {
	images := make([]llm.ImageInput, 0, len(refs)+1)
	images = append(images, llm.ImageInput{
		Label: "submitted photo",
		Data:  photo.data,
		MIME:  photo.mime,
	})
	for i, ref := range refs {
		images = append(images, llm.ImageInput{
			Label: fmt.Sprintf("promotional reference %d", i+1),
			Data:  ref.data,
			MIME:  ref.mime,
		})
	}

	verdict, err := p.vision.CompareImages(ctx, llm.VisionRequest{
		SystemPrompt: rubricSystemPrompt,
		UserPrompt:   rubricUserPrompt(len(refs)),
		Images:       images,
	})
	if err != nil {
		p.logger.Warn("Vision model call failed", "error", err)
		return &llm.Verdict{Reasoning: "model call failed: " + err.Error()}
	}
	return verdict
}

// persist writes the entry with replace-on-match by user id. Persistence
// failures are logged; the verdict still goes back to the caller.
func (p *Pipeline) persist(req SubmitRequest, entry *Entry) {
	item := map[string]any{
		"user_id":           entry.UserID,
		"photo_url":         entry.PhotoURL,
		"vibe_score":        entry.VibeScore,
		"confidence_score":  entry.ConfidenceScore,
		"vibe_analysis":     entry.VibeAnalysis,
		"promotional_match": entry.PromotionalMatch,
		"reasoning":         entry.Reasoning,
		"timestamp":         entry.Timestamp,
		"method":            entry.Method,
	}
	if entry.Message != "" {
		item["message"] = entry.Message
	}
	err := p.events.ReplaceInArray(req.GuildID, req.EventID, "vibe_checks",
		func(obj map[string]any) bool { return obj["user_id"] == req.UserID },
		item)
	if err != nil {
		p.logger.Error("Vibe-check persistence failed",
			"guild_id", req.GuildID, "event_id", req.EventID, "user_id", req.UserID, "error", err)
	}
}

func (p *Pipeline) newEntry(req SubmitRequest, v *llm.Verdict, method string) *Entry {
	return &Entry{
		UserID:           req.UserID,
		PhotoURL:         req.PhotoURL,
		VibeScore:        v.VibeScore,
		ConfidenceScore:  v.ConfidenceScore,
		VibeAnalysis:     v.VibeAnalysis,
		PromotionalMatch: v.PromotionalMatch,
		Reasoning:        v.Reasoning,
		Timestamp:        p.now().UTC().Format(time.RFC3339),
		Method:           method,
	}
}

// download fetches the submitted photo. Non-200 responses abort.
func (p *Pipeline) download(ctx context.Context, url string) (normalized, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return normalized{}, errs.Validation("photo_url", "invalid URL: "+err.Error())
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return normalized{}, errs.Upstream("download photo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return normalized{}, errs.Upstream(fmt.Sprintf("download photo: status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return normalized{}, errs.Upstream("read photo body", err)
	}
	if len(data) == 0 {
		return normalized{}, errs.Upstream("download photo: empty body", nil)
	}
	return normalized{data: data, mime: http.DetectContentType(data)}, nil
}

func (p *Pipeline) pairLock(key string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.pairLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		p.pairLocks[key] = lock
	}
	return lock
}

// checkInterval enforces the per-(user,event) minimum submission gap.
func (p *Pipeline) checkInterval(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastSubmit[key]
	if !ok {
		return nil
	}
	elapsed := p.now().Sub(last)
	if elapsed < p.opts.MinInterval {
		wait := p.opts.MinInterval - elapsed
		return errs.RateLimited(fmt.Sprintf("photo submitted too recently, retry in %s", wait.Round(time.Second)))
	}
	return nil
}

func (p *Pipeline) markSubmitted(key string) {
	p.mu.Lock()
	p.lastSubmit[key] = p.now()
	p.mu.Unlock()
}
