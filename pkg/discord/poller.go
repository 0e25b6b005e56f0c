package discord

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
)

// DefaultPollInterval is the snapshot poll cadence.
const DefaultPollInterval = 30 * time.Second

// seenActionsSize bounds the delivered-action dedupe cache.
const seenActionsSize = 2048

// Poller drives the agent-state snapshot loop: it fetches pending actions
// from the monitoring API and delivers them through the chat port. Every
// send is best-effort and limiter-gated; duplicates are dropped by action
// id.
type Poller struct {
	stateURL   string
	httpClient *http.Client
	port       ChatPort
	messages   *MessageMap
	limiter    *rate.Limiter
	seen       *lru.Cache[string, struct{}]
	interval   time.Duration
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// PollerOptions tune the snapshot loop; zero values take the defaults.
type PollerOptions struct {
	// Interval is the snapshot poll cadence.
	Interval time.Duration

	// SendRatePerSecond and SendBurst gate outbound chat actions.
	SendRatePerSecond float64
	SendBurst         int
}

func (o PollerOptions) withDefaults() PollerOptions {
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	if o.SendRatePerSecond <= 0 {
		o.SendRatePerSecond = 2
	}
	if o.SendBurst <= 0 {
		o.SendBurst = 5
	}
	return o
}

// NewPoller creates a poller against the monitoring API.
func NewPoller(stateURL string, port ChatPort, messages *MessageMap, opts PollerOptions) *Poller {
	opts = opts.withDefaults()
	seen, _ := lru.New[string, struct{}](seenActionsSize)
	return &Poller{
		stateURL:   stateURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		port:       port,
		messages:   messages,
		limiter:    rate.NewLimiter(rate.Limit(opts.SendRatePerSecond), opts.SendBurst),
		seen:       seen,
		interval:   opts.Interval,
		logger:     slog.Default().With("component", "discord-poller"),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll(ctx)
			}
		}
	}()
}

// Stop halts the loop after the in-flight poll finishes.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// snapshotActions is the slice of the snapshot response the poller consumes.
type snapshotActions struct {
	Actions map[string]*agent.GuildActions `json:"agent_state_by_guild"`
}

// Poll fetches one snapshot and applies its actions. Fetch failures are
// logged and retried on the next tick.
func (p *Poller) Poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.stateURL, nil)
	if err != nil {
		return
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("Snapshot poll failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("Snapshot poll returned status", "status", resp.Status)
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		p.logger.Warn("Snapshot read failed", "error", err)
		return
	}
	var snap snapshotActions
	if err := json.Unmarshal(data, &snap); err != nil {
		p.logger.Warn("Snapshot decode failed", "error", err)
		return
	}

	for guildID, actions := range snap.Actions {
		p.apply(ctx, guildID, actions)
	}
}

func (p *Poller) apply(ctx context.Context, guildID string, actions *agent.GuildActions) {
	for _, msg := range actions.PendingMessages {
		if !p.claim(msg.ID) {
			continue
		}
		p.send(ctx, func() error { return p.port.Reply(ctx, msg.ChannelID, msg.Content) }, "message", msg.ID)
	}
	for _, update := range actions.EventUpdates {
		if !p.claim(update.ID) {
			continue
		}
		messageID := update.MessageID
		if messageID == "" {
			messageID = update.EventID
		}
		p.send(ctx, func() error {
			return p.port.UpdateEmbed(ctx, update.ChannelID, messageID, update.Fields)
		}, "event-update", update.ID)
	}
	for _, note := range actions.UserNotifications {
		if !p.claim(note.ID) {
			continue
		}
		p.send(ctx, func() error { return p.port.Notify(ctx, note.UserID, note.Content) }, "notification", note.ID)
	}
}

// claim marks an action id as delivered; false means it was seen before.
func (p *Poller) claim(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := p.seen.Get(id); ok {
		return false
	}
	p.seen.Add(id, struct{}{})
	return true
}

func (p *Poller) send(ctx context.Context, fn func() error, kind, id string) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	if err := fn(); err != nil {
		p.logger.Warn("Action delivery failed", "kind", kind, "action_id", id, "error", err)
	}
}
