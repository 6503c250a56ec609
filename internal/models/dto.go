package models

import "time"

// LocationRequest is the location part of a create/update/patch body.
type LocationRequest struct {
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"`
}

// CharacteristicRequest is one characteristic in a request body.
type CharacteristicRequest struct {
	Code  string              `json:"code"`
	Type  *CharacteristicType `json:"type"`
	Value string              `json:"value"`
}

// ResourceRequest is the body of create and full update.
type ResourceRequest struct {
	Type            *ResourceType           `json:"type"`
	CountryCode     string                  `json:"countryCode"`
	Location        *LocationRequest        `json:"location"`
	Characteristics []CharacteristicRequest `json:"characteristics"`
}

// PatchResourceRequest is the body of a partial update. A nil field is
// absent; a non-nil empty Characteristics clears the set.
type PatchResourceRequest struct {
	Type            *ResourceType            `json:"type"`
	CountryCode     *string                  `json:"countryCode"`
	Location        *LocationRequest         `json:"location"`
	Characteristics *[]CharacteristicRequest `json:"characteristics"`
}

// LocationResponse is the wire form of a location.
type LocationResponse struct {
	ID            int64  `json:"id"`
	StreetAddress string `json:"streetAddress"`
	City          string `json:"city"`
	PostalCode    string `json:"postalCode"`
	CountryCode   string `json:"countryCode"`
}

// CharacteristicResponse is the wire form of a characteristic.
type CharacteristicResponse struct {
	ID    int64              `json:"id"`
	Code  string             `json:"code"`
	Type  CharacteristicType `json:"type"`
	Value string             `json:"value"`
}

// ResourceResponse is the wire form of a resource.
type ResourceResponse struct {
	ID              int64                    `json:"id"`
	Type            ResourceType             `json:"type"`
	CountryCode     string                   `json:"countryCode"`
	Version         int64                    `json:"version"`
	CreatedAt       Timestamp                `json:"createdAt"`
	UpdatedAt       Timestamp                `json:"updatedAt"`
	Location        *LocationResponse        `json:"location"`
	Characteristics []CharacteristicResponse `json:"characteristics"`
}

// BatchNotificationResponse summarises a send-all run.
type BatchNotificationResponse struct {
	OperationID   string    `json:"operationId"`
	ResourceCount int       `json:"resourceCount"`
	Status        string    `json:"status"`
	ProcessedAt   Timestamp `json:"processedAt"`
	Operation     string    `json:"operation"`
}

// TimestampLayout is the textual form of every timestamp the service emits
// except the error body's local date-time.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// LocalTimestampLayout has no zone offset.
const LocalTimestampLayout = "2006-01-02T15:04:05.000"

// Timestamp marshals with TimestampLayout in whatever zone it carries.
type Timestamp time.Time

func (t Timestamp) Time() time.Time { return time.Time(t) }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(TimestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	parsed, err := time.Parse(`"`+TimestampLayout+`"`, string(data))
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}
