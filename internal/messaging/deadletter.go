package messaging

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"example.com/backstage/services/resource/internal/metrics"
	"example.com/backstage/services/resource/internal/models"
)

// Category is the coarse failure class of a dead-lettered event.
type Category string

const (
	CategorySerialization Category = "SERIALIZATION"
	CategoryTransient     Category = "TRANSIENT"
	CategoryValidation    Category = "VALIDATION"
	CategoryBusiness      Category = "BUSINESS"
	CategoryUnknown       Category = "UNKNOWN"
)

// Keyword families, checked in this order against the lower-cased reason.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategorySerialization, []string{"deserializ", "serializ", "json", "parse", "unmarshal", "marshal"}},
	{CategoryTransient, []string{"timeout", "timed out", "connection", "unavailable", "deadline exceeded"}},
	{CategoryValidation, []string{"validation", "constraint"}},
}

// Classify maps a failure reason onto a Category. A nil reason is UNKNOWN and
// a reason matching no keyword family is BUSINESS.
func Classify(reason *string) Category {
	if reason == nil {
		return CategoryUnknown
	}
	r := strings.ToLower(*reason)
	for _, family := range categoryKeywords {
		for _, kw := range family.keywords {
			if strings.Contains(r, kw) {
				return family.category
			}
		}
	}
	return CategoryBusiness
}

// DeadLetter is an event that exhausted delivery, with its transport metadata.
type DeadLetter struct {
	Event     models.ResourceEvent
	Topic     string
	Partition string
	Offset    int64
	// Reason is the failure message, nil when the transport did not record one.
	Reason *string
}

// DeadLetterHandler records dead-lettered events for operators. It performs no
// remediation.
type DeadLetterHandler struct {
	log     zerolog.Logger
	metrics *metrics.Metrics
	marshal func(any) ([]byte, error)
}

// NewDeadLetterHandler creates a handler logging to logger.
func NewDeadLetterHandler(logger zerolog.Logger, m *metrics.Metrics) *DeadLetterHandler {
	return &DeadLetterHandler{log: logger, metrics: m, marshal: json.Marshal}
}

// Handle logs the receipt, the full payload and the failure category, and
// returns the category.
func (h *DeadLetterHandler) Handle(ctx context.Context, dl DeadLetter) Category {
	ev := dl.Event
	reason := ""
	if dl.Reason != nil {
		reason = *dl.Reason
	}

	h.log.Error().
		Str("topic", dl.Topic).
		Str("partition", dl.Partition).
		Int64("offset", dl.Offset).
		Str("event_id", ev.EventID).
		Int64("resource_id", ev.ResourceID).
		Str("event_type", string(ev.EventType)).
		Str("error", reason).
		Msg("DLT_MESSAGE_RECEIVED")

	h.log.Error().
		Str("event_id", ev.EventID).
		RawJSON("event", h.payload(ev)).
		Msg("DLT_EVENT_JSON")

	category := Classify(dl.Reason)
	h.metrics.RecordDeadLetter(string(category))
	h.log.Error().
		Str("event_id", ev.EventID).
		Str("category", string(category)).
		Msg("DLT_CATEGORY " + categoryDescription(category))
	return category
}

func (h *DeadLetterHandler) payload(ev models.ResourceEvent) []byte {
	body, err := h.marshal(ev)
	if err == nil {
		return body
	}
	fallback, _ := json.Marshal(map[string]any{
		"eventId":    ev.EventID,
		"eventType":  string(ev.EventType),
		"resourceId": ev.ResourceID,
		"error":      "serialization_failed",
	})
	return fallback
}

func categoryDescription(c Category) string {
	switch c {
	case CategorySerialization:
		return "event could not be serialized or parsed"
	case CategoryTransient:
		return "broker or network was unavailable"
	case CategoryValidation:
		return "event violated a validation constraint"
	case CategoryBusiness:
		return "event was rejected by business rules"
	default:
		return "no failure reason recorded"
	}
}
