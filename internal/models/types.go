package models

import (
	"encoding/json"
	"fmt"
)

// ResourceType classifies a resource.
type ResourceType string

const (
	ResourceTypeMeteringPoint   ResourceType = "METERING_POINT"
	ResourceTypeConnectionPoint ResourceType = "CONNECTION_POINT"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeMeteringPoint, ResourceTypeConnectionPoint:
		return true
	}
	return false
}

// UnmarshalJSON rejects literals outside the enumeration.
func (t *ResourceType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &InvalidEnumError{Enum: "ResourceType", Value: string(data)}
	}
	v := ResourceType(s)
	if !v.Valid() {
		return &InvalidEnumError{Enum: "ResourceType", Value: s}
	}
	*t = v
	return nil
}

// CharacteristicType classifies a characteristic.
type CharacteristicType string

const (
	CharacteristicTypeConsumptionType       CharacteristicType = "CONSUMPTION_TYPE"
	CharacteristicTypeChargingPoint         CharacteristicType = "CHARGING_POINT"
	CharacteristicTypeConnectionPointStatus CharacteristicType = "CONNECTION_POINT_STATUS"
)

// Valid reports whether t is a known characteristic type.
func (t CharacteristicType) Valid() bool {
	switch t {
	case CharacteristicTypeConsumptionType, CharacteristicTypeChargingPoint, CharacteristicTypeConnectionPointStatus:
		return true
	}
	return false
}

// UnmarshalJSON rejects literals outside the enumeration.
func (t *CharacteristicType) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return &InvalidEnumError{Enum: "CharacteristicType", Value: string(data)}
	}
	v := CharacteristicType(s)
	if !v.Valid() {
		return &InvalidEnumError{Enum: "CharacteristicType", Value: s}
	}
	*t = v
	return nil
}

// EventType is the kind of change a ResourceEvent announces.
type EventType string

const (
	EventTypeCreated           EventType = "CREATED"
	EventTypeUpdated           EventType = "UPDATED"
	EventTypeDeleted           EventType = "DELETED"
	EventTypeBatchNotification EventType = "BATCH_NOTIFICATION"
)

// InvalidEnumError is returned when a request carries an unknown enum literal.
type InvalidEnumError struct {
	Enum  string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("invalid %s value %q", e.Enum, e.Value)
}
