package record

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/hybridrec/internal/telemetry"
)

// Layouts tried, in order, for string timestamps. RFC 3339 covers the
// trailing "Z" (UTC) and explicit offsets; the rest are offset-less ISO-8601
// forms and are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Validator converts raw items to Canonical records.
type Validator struct {
	tel   *telemetry.Recorder
	now   func() time.Time
	newID func() string
}

// NewValidator creates a Validator reporting anomalies to tel.
func NewValidator(tel *telemetry.Recorder) *Validator {
	if tel == nil {
		tel = telemetry.New()
	}
	return &Validator{
		tel:   tel,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Validate produces exactly one Canonical record or a *ValidationError.
//
// A timestamp that cannot be parsed is replaced by the current time instead of
// failing the item. A missing or empty message_id gets a fresh UUID.
func (v *Validator) Validate(raw any) (Canonical, error) {
	item, ok := raw.(map[string]any)
	if !ok {
		return Canonical{}, &ValidationError{Field: "item", Reason: "not a JSON object"}
	}

	userID, err := requiredString(item, "user_id")
	if err != nil {
		return Canonical{}, err
	}
	message, err := requiredString(item, "message")
	if err != nil {
		return Canonical{}, err
	}

	messageID := ""
	switch id := item["message_id"].(type) {
	case nil:
	case string:
		messageID = id
	default:
		return Canonical{}, &ValidationError{Field: "message_id", Reason: "must be a string"}
	}
	if messageID == "" {
		messageID = v.newID()
	}

	return Canonical{
		UserID:    userID,
		Message:   message,
		Timestamp: v.parseTimestamp(item["timestamp"]),
		MessageID: messageID,
	}, nil
}

// ValidateBatch validates every item. Each rejected item is reported as a
// schema_validation anomaly carrying the raw item; an all-rejected (or empty)
// batch is additionally reported as empty_ingest. The batch is never aborted.
func (v *Validator) ValidateBatch(items []any, runID string) []Canonical {
	out := make([]Canonical, 0, len(items))
	for _, raw := range items {
		rec, err := v.Validate(raw)
		if err != nil {
			v.tel.Anomaly("schema_validation", err.Error(), "run_id", runID, "raw", raw)
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		v.tel.Anomaly("empty_ingest", "no valid records after ingest", "run_id", runID, "items", len(items))
	}
	return out
}

func (v *Validator) parseTimestamp(raw any) time.Time {
	switch ts := raw.(type) {
	case time.Time:
		return ts
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t
			}
		}
	}
	return v.now()
}

func requiredString(item map[string]any, field string) (string, error) {
	raw, ok := item[field]
	if !ok || raw == nil {
		return "", &ValidationError{Field: field, Reason: "missing"}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &ValidationError{Field: field, Reason: "must be a string"}
	}
	if strings.TrimSpace(s) == "" {
		return "", &ValidationError{Field: field, Reason: "empty"}
	}
	return s, nil
}
