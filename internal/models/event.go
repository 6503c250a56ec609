package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ResourceEvent is published on every mutation and on batch notification.
type ResourceEvent struct {
	EventType      EventType         `json:"eventType"`
	ResourceID     int64             `json:"resourceId"`
	Resource       *ResourceResponse `json:"resource"`
	EventTimestamp string            `json:"eventTimestamp"`
	EventID        string            `json:"eventId"`
}

// NewResourceEvent stamps a fresh event id and the given time.
func NewResourceEvent(eventType EventType, resourceID int64, resource *ResourceResponse, at time.Time) ResourceEvent {
	return ResourceEvent{
		EventType:      eventType,
		ResourceID:     resourceID,
		Resource:       resource,
		EventTimestamp: at.Format(TimestampLayout),
		EventID:        uuid.NewString(),
	}
}

// PartitionKey is the ordering key of the event.
func (e ResourceEvent) PartitionKey() string {
	return strconv.FormatInt(e.ResourceID, 10)
}
