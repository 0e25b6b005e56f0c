package guilddata

import (
	"strings"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
)

// EventStore manipulates the single JSON object at
// data/<guild>/<event>/event.json. All operations are load-modify-write
// under the path lock, so concurrent tool calls interleave whole operations
// rather than bytes.
type EventStore struct {
	store *Store
}

// NewEventStore wraps a Store with event-record operations.
func NewEventStore(store *Store) *EventStore {
	return &EventStore{store: store}
}

// Load returns the event record, or an empty map when none exists yet.
func (e *EventStore) Load(guildID, eventID string) (map[string]any, error) {
	path := e.store.EventFile(guildID, eventID)
	lock := e.store.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	record := map[string]any{}
	if _, err := loadJSON(path, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// Exists reports whether an event record has been written.
func (e *EventStore) Exists(guildID, eventID string) bool {
	record, err := e.Load(guildID, eventID)
	return err == nil && len(record) > 0
}

// SetField sets a top-level field.
func (e *EventStore) SetField(guildID, eventID, field string, value any) error {
	return e.update(guildID, eventID, func(record map[string]any) error {
		record[field] = value
		return nil
	})
}

// SetNestedField sets a dotted-path field, creating intermediate objects.
// A non-object intermediate is replaced rather than erroring, matching the
// last-writer-wins semantics of the flat setters.
func (e *EventStore) SetNestedField(guildID, eventID, path string, value any) error {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return errs.Validation("path", "must be a non-empty dotted path")
	}
	return e.update(guildID, eventID, func(record map[string]any) error {
		current := record
		for _, part := range parts[:len(parts)-1] {
			next, ok := current[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				current[part] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
		return nil
	})
}

// AppendToArray appends item to the named top-level array, creating it when
// absent.
func (e *EventStore) AppendToArray(guildID, eventID, field string, item any) error {
	return e.update(guildID, eventID, func(record map[string]any) error {
		arr, _ := record[field].([]any)
		record[field] = append(arr, item)
		return nil
	})
}

// RemoveFromArray drops every object in the named array the predicate
// matches. Non-object elements are kept. Returns the number removed.
func (e *EventStore) RemoveFromArray(guildID, eventID, field string, match func(map[string]any) bool) (int, error) {
	removed := 0
	err := e.update(guildID, eventID, func(record map[string]any) error {
		arr, ok := record[field].([]any)
		if !ok {
			return nil
		}
		kept := make([]any, 0, len(arr))
		for _, el := range arr {
			obj, isObj := el.(map[string]any)
			if isObj && match(obj) {
				removed++
				continue
			}
			kept = append(kept, el)
		}
		record[field] = kept
		return nil
	})
	return removed, err
}

// ReplaceInArray removes matching objects and appends item in one atomic
// operation. This is the replace-on-match primitive the vibe-check pipeline
// relies on: after N submissions only the latest survives.
func (e *EventStore) ReplaceInArray(guildID, eventID, field string, match func(map[string]any) bool, item any) error {
	return e.update(guildID, eventID, func(record map[string]any) error {
		arr, _ := record[field].([]any)
		kept := make([]any, 0, len(arr)+1)
		for _, el := range arr {
			if obj, isObj := el.(map[string]any); isObj && match(obj) {
				continue
			}
			kept = append(kept, el)
		}
		record[field] = append(kept, item)
		return nil
	})
}

// update performs one locked load-modify-write cycle.
func (e *EventStore) update(guildID, eventID string, mutate func(map[string]any) error) error {
	path := e.store.EventFile(guildID, eventID)
	lock := e.store.pathLock(path)
	lock.Lock()
	defer lock.Unlock()

	record := map[string]any{}
	if _, err := loadJSON(path, &record); err != nil {
		return err
	}
	if err := mutate(record); err != nil {
		return err
	}
	data, err := marshalIndent(record)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}
