// Package events defines the CloudEvent envelope, the closed event-type set,
// per-type payload contracts, and the factories that produce well-formed
// envelopes for the dispatch pipeline.
//
// Every inbound chat interaction is expressed as exactly one of these event
// types. Adding a type means registering three things: a payload schema here,
// an analysis-table row in the agent, and a priority default below.
package events

// SpecVersion is the only CloudEvents spec version the coordinator accepts.
const SpecVersion = "1.0"

// ContentTypeJSON is the default datacontenttype for every envelope.
const ContentTypeJSON = "application/json"

// Type identifies one member of the closed CloudEvent type set. All types
// live in the reverse-DNS namespace com.tlt.chat.
type Type string

const (
	TypeCreateEvent     Type = "com.tlt.chat.create-event"
	TypeUpdateEvent     Type = "com.tlt.chat.update-event"
	TypeDeleteEvent     Type = "com.tlt.chat.delete-event"
	TypeListEvents      Type = "com.tlt.chat.list-events"
	TypeEventInfo       Type = "com.tlt.chat.event-info"
	TypeRSVPEvent       Type = "com.tlt.chat.rsvp-event"
	TypeRegisterGuild   Type = "com.tlt.chat.register-guild"
	TypeDeregisterGuild Type = "com.tlt.chat.deregister-guild"
	TypePhotoVibeCheck  Type = "com.tlt.chat.photo-vibe-check"
	TypePromotionImage  Type = "com.tlt.chat.promotion-image"
	TypeVibeAction      Type = "com.tlt.chat.vibe-action"
	TypeSaveEvent       Type = "com.tlt.chat.save-event-to-guild-data"
	TypeTimerTrigger    Type = "com.tlt.chat.timer-trigger"
	TypeMessage         Type = "com.tlt.chat.message"
)

// AllTypes lists every member of the closed set in declaration order.
var AllTypes = []Type{
	TypeCreateEvent,
	TypeUpdateEvent,
	TypeDeleteEvent,
	TypeListEvents,
	TypeEventInfo,
	TypeRSVPEvent,
	TypeRegisterGuild,
	TypeDeregisterGuild,
	TypePhotoVibeCheck,
	TypePromotionImage,
	TypeVibeAction,
	TypeSaveEvent,
	TypeTimerTrigger,
	TypeMessage,
}

var validTypes = func() map[Type]struct{} {
	m := make(map[Type]struct{}, len(AllTypes))
	for _, t := range AllTypes {
		m[t] = struct{}{}
	}
	return m
}()

// Known reports whether t belongs to the closed type set.
func Known(t Type) bool {
	_, ok := validTypes[t]
	return ok
}

// Trigger is the short family name an Agent Task records for its CloudEvent.
type Trigger string

const (
	TriggerCreateEvent     Trigger = "create-event"
	TriggerUpdateEvent     Trigger = "update-event"
	TriggerDeleteEvent     Trigger = "delete-event"
	TriggerListEvents      Trigger = "list-events"
	TriggerEventInfo       Trigger = "event-info"
	TriggerRSVPEvent       Trigger = "rsvp-event"
	TriggerRegisterGuild   Trigger = "register-guild"
	TriggerDeregisterGuild Trigger = "deregister-guild"
	TriggerPhotoVibeCheck  Trigger = "photo-vibe-check"
	TriggerPromotionImage  Trigger = "promotion-image"
	TriggerVibeAction      Trigger = "vibe-action"
	TriggerSaveEvent       Trigger = "save-event"
	TriggerTimer           Trigger = "timer"
	TriggerMessage         Trigger = "message"
)

var triggerByType = map[Type]Trigger{
	TypeCreateEvent:     TriggerCreateEvent,
	TypeUpdateEvent:     TriggerUpdateEvent,
	TypeDeleteEvent:     TriggerDeleteEvent,
	TypeListEvents:      TriggerListEvents,
	TypeEventInfo:       TriggerEventInfo,
	TypeRSVPEvent:       TriggerRSVPEvent,
	TypeRegisterGuild:   TriggerRegisterGuild,
	TypeDeregisterGuild: TriggerDeregisterGuild,
	TypePhotoVibeCheck:  TriggerPhotoVibeCheck,
	TypePromotionImage:  TriggerPromotionImage,
	TypeVibeAction:      TriggerVibeAction,
	TypeSaveEvent:       TriggerSaveEvent,
	TypeTimerTrigger:    TriggerTimer,
	TypeMessage:         TriggerMessage,
}

// TriggerOf maps a CloudEvent type to its task trigger family.
// Unknown types map to the empty trigger.
func TriggerOf(t Type) Trigger {
	return triggerByType[t]
}

// Priority orders tasks in the manager's queue and decisions in the agent.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank converts a priority into its dequeue ordering weight.
// Higher ranks dequeue first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// DefaultPriority returns the admission priority for a CloudEvent type:
// guild registration and event creation are high, listing and info queries
// are low, everything else is normal.
func DefaultPriority(t Type) Priority {
	switch t {
	case TypeRegisterGuild, TypeDeregisterGuild, TypeCreateEvent:
		return PriorityHigh
	case TypeListEvents, TypeEventInfo:
		return PriorityLow
	default:
		return PriorityNormal
	}
}
