package graph

import (
	"context"
	"time"

	"github.com/davidmiura/tlt-sub000/pkg/agent"
)

// degradedAfter is the consecutive ping failures before the gateway is
// reported degraded.
const degradedAfter = 3

// StartMaintenance runs the background upkeep loop: a gateway health probe
// and a context refresh for events referenced by live timers or recent
// decisions. One loop per driver.
func (d *Driver) StartMaintenance(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.maintCancel = cancel
	d.maintDone = make(chan struct{})

	go func() {
		defer close(d.maintDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				failures = d.probeGateway(ctx, failures)
				d.refreshEventContexts(ctx)
				d.pruneTimers()
			}
		}
	}()
}

// StopMaintenance cancels the upkeep loop and waits for it to exit.
func (d *Driver) StopMaintenance() {
	if d.maintCancel == nil {
		return
	}
	d.maintCancel()
	<-d.maintDone
	d.maintCancel = nil
	d.maintDone = nil
}

// probeGateway pings the gateway and tracks consecutive failures. Crossing
// the threshold records one degradation error; recovery logs once.
func (d *Driver) probeGateway(ctx context.Context, failures int) int {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := d.caller.Ping(probeCtx); err != nil {
		failures++
		if failures == degradedAfter {
			d.state.RecordError("gateway unreachable: " + err.Error())
			d.logger.Warn("Gateway degraded", "consecutive_failures", failures, "error", err)
		}
		return failures
	}
	if failures >= degradedAfter {
		d.logger.Info("Gateway recovered", "after_failures", failures)
	}
	return 0
}

// refreshDecisionWindow is how many recent decisions feed the refresh set.
const refreshDecisionWindow = 10

// refreshEventContexts re-fetches event context for every event referenced
// by a live timer or a recent decision, so reminder firings and follow-up
// reasoning carry current titles and owners.
func (d *Driver) refreshEventContexts(ctx context.Context) {
	targets := make(map[string]string) // event id → guild id
	for _, timer := range d.state.ActiveTimers() {
		if timer.EventID != "" && timer.GuildID != "" {
			targets[timer.EventID] = timer.GuildID
		}
	}
	for _, decision := range d.state.LastDecisions(refreshDecisionWindow) {
		eventID := stringField(decision.ToolArgs, "event_id")
		guildID := stringField(decision.ToolArgs, "guild_id")
		if eventID != "" && guildID != "" {
			targets[eventID] = guildID
		}
	}

	for eventID, guildID := range targets {
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		env, err := d.caller.Call(callCtx, "get_event_info", map[string]any{
			"guild_id": guildID,
			"event_id": eventID,
		})
		cancel()
		if err != nil || !env.Success {
			continue
		}
		ec := &agent.EventContext{
			EventID:   eventID,
			GuildID:   guildID,
			Title:     stringField(env.Result, "title"),
			CreatedBy: stringField(env.Result, "created_by"),
			Fetched:   d.now().UTC(),
		}
		d.contexts.Add(eventID, ec)
		d.state.CacheEventContext(ec)
	}
}

// pruneTimers drops fired timers from the state list.
func (d *Driver) pruneTimers() {
	d.state.Lock()
	defer d.state.Unlock()
	kept := d.state.Timers[:0]
	for _, t := range d.state.Timers {
		if t.Active {
			kept = append(kept, t)
		}
	}
	d.state.Timers = kept
}
