// Package syncbus coalesces data-mutation events into cache invalidation
// passes. Events are queued, grouped per pass by entity type and action, and
// handed to a BatchHandler; the Coordinator is the production handler.
package syncbus

import (
	"fmt"
	"maps"
	"time"
)

// EntityType names the kind of record an event is about.
type EntityType string

const (
	EntityAccount       EntityType = "account"
	EntityTransaction   EntityType = "transaction"
	EntityBudget        EntityType = "budget"
	EntityCategory      EntityType = "category"
	EntityTrip          EntityType = "trip"
	EntityItinerary     EntityType = "itinerary"
	EntityBulkOperation EntityType = "bulk_operation"
)

// EntityTypes lists the known entity types.
var EntityTypes = []EntityType{
	EntityAccount, EntityTransaction, EntityBudget, EntityCategory,
	EntityTrip, EntityItinerary, EntityBulkOperation,
}

func (t EntityType) Valid() bool {
	for _, known := range EntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// SyncEvent reports that a record changed. ID and EnqueuedAt are stamped on
// publish when empty.
type SyncEvent struct {
	ID         string            `json:"id"`
	Type       EntityType        `json:"type"`
	Action     Action            `json:"action"`
	EntityID   string            `json:"entity_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Validate rejects events with an unknown action. Unknown entity types are
// accepted: the coordinator escalates them to a full invalidation.
func (e SyncEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("sync event type is required")
	}
	if !e.Action.Valid() {
		return fmt.Errorf("unknown sync event action %q", e.Action)
	}
	return nil
}

func (e SyncEvent) clone() SyncEvent {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// EventBatch holds the events of one pass that share type and action.
type EventBatch struct {
	Type   EntityType
	Action Action
	Events []SyncEvent
}

// group splits events by (type, action) in order of first appearance.
func group(events []SyncEvent) []EventBatch {
	type key struct {
		t EntityType
		a Action
	}
	index := make(map[key]int)
	var batches []EventBatch
	for _, e := range events {
		k := key{e.Type, e.Action}
		i, ok := index[k]
		if !ok {
			i = len(batches)
			index[k] = i
			batches = append(batches, EventBatch{Type: e.Type, Action: e.Action})
		}
		batches[i].Events = append(batches[i].Events, e)
	}
	return batches
}
