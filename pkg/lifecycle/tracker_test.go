package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmiura/tlt-sub000/pkg/events"
)

func TestRegisterAppendsReceivedEntry(t *testing.T) {
	tr := NewTracker(30 * time.Minute)

	lc := tr.Register("task-1", "evt-1", events.TriggerCreateEvent, events.TypeCreateEvent)

	require.NotNil(t, lc)
	require.Len(t, lc.Entries, 1)
	assert.Equal(t, StatusReceived, lc.Entries[0].Status)
	assert.Equal(t, "task-1", lc.TaskID)
	assert.False(t, lc.Final())
}

func TestRegisterIsIdempotent(t *testing.T) {
	tr := NewTracker(30 * time.Minute)

	tr.Register("task-1", "evt-1", events.TriggerRSVPEvent, events.TypeRSVPEvent)
	tr.Append("task-1", StatusQueued, "", "queued", nil)
	again := tr.Register("task-1", "evt-1", events.TriggerRSVPEvent, events.TypeRSVPEvent)

	assert.Len(t, again.Entries, 2, "re-registering must not reset the entry list")
	assert.Equal(t, 1, tr.Count())
}

func TestFinalizeBlocksFurtherEntries(t *testing.T) {
	tr := NewTracker(30 * time.Minute)
	tr.Register("task-1", "evt-1", events.TriggerCreateEvent, events.TypeCreateEvent)

	tr.Append("task-1", StatusInReasoning, "reasoning", "deciding", nil)
	tr.Finalize("task-1", StatusCompleted, "tool-executor", "done")
	tr.Append("task-1", StatusInMonitor, "event-monitor", "late entry", nil)
	tr.Finalize("task-1", StatusError, "tool-executor", "second final")

	lc := tr.Get("task-1")
	require.NotNil(t, lc)
	assert.Equal(t, StatusCompleted, lc.FinalStatus)
	assert.Equal(t, StatusCompleted, lc.Entries[len(lc.Entries)-1].Status)

	finals := 0
	for _, e := range lc.Entries {
		if e.Status.IsFinal() {
			finals++
		}
	}
	assert.Equal(t, 1, finals, "exactly one final entry")
}

func TestAppendWithFinalStatusFinalizes(t *testing.T) {
	tr := NewTracker(30 * time.Minute)
	tr.Register("task-1", "evt-1", events.TriggerListEvents, events.TypeListEvents)

	tr.Append("task-1", StatusError, "tool-executor", "gateway failed", nil)

	status, final := tr.IsFinal("task-1")
	require.True(t, final)
	assert.Equal(t, StatusError, status)
}

func TestNodesVisitedOrderAndUniqueness(t *testing.T) {
	tr := NewTracker(30 * time.Minute)
	tr.Register("task-1", "evt-1", events.TriggerCreateEvent, events.TypeCreateEvent)

	tr.Append("task-1", StatusInMonitor, "event-monitor", "", nil)
	tr.Append("task-1", StatusInReasoning, "reasoning", "", nil)
	tr.Append("task-1", StatusInMonitor, "event-monitor", "", nil)
	tr.Append("task-1", StatusInExecutor, "tool-executor", "", nil)

	lc := tr.Get("task-1")
	assert.Equal(t, []string{"event-monitor", "reasoning", "tool-executor"}, lc.NodesVisited())
}

func TestGetReturnsDeepCopy(t *testing.T) {
	tr := NewTracker(30 * time.Minute)
	tr.Register("task-1", "evt-1", events.TriggerCreateEvent, events.TypeCreateEvent)
	tr.Append("task-1", StatusQueued, "", "", map[string]any{"cloudevent_id": "ce-1"})

	snap := tr.Get("task-1")
	snap.Entries[1].Metadata["cloudevent_id"] = "mutated"
	snap.Entries = append(snap.Entries, Entry{Status: StatusError})

	fresh := tr.Get("task-1")
	require.Len(t, fresh.Entries, 2)
	assert.Equal(t, "ce-1", fresh.Entries[1].Metadata["cloudevent_id"])
}

func TestSweepAbandonsOnlyStaleLifecycles(t *testing.T) {
	tr := NewTracker(time.Millisecond)

	tr.Register("stale", "evt-1", events.TriggerCreateEvent, events.TypeCreateEvent)
	time.Sleep(5 * time.Millisecond)
	abandoned := tr.Sweep()

	assert.Equal(t, 1, abandoned)
	status, final := tr.IsFinal("stale")
	require.True(t, final)
	assert.Equal(t, StatusAbandoned, status)

	// Already-final lifecycles are not swept again.
	assert.Equal(t, 0, tr.Sweep())
}

func TestIsFinalUnknownTask(t *testing.T) {
	tr := NewTracker(30 * time.Minute)
	_, final := tr.IsFinal("missing")
	assert.False(t, final)
	assert.Nil(t, tr.Get("missing"))
}
