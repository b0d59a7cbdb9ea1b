package record

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/hybridrec/internal/telemetry"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestValidator(t *testing.T) (*Validator, *[]telemetry.Anomaly) {
	t.Helper()
	var seen []telemetry.Anomaly
	tel := telemetry.New(telemetry.WithAnomalyHook(func(a telemetry.Anomaly) { seen = append(seen, a) }))
	v := NewValidator(tel)
	v.now = func() time.Time { return fixedNow }
	ids := 0
	v.newID = func() string {
		ids++
		return "generated-" + string(rune('0'+ids))
	}
	return v, &seen
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name      string
		raw       any
		wantField string
	}{
		{"missing user_id", map[string]any{"message": "hi"}, "user_id"},
		{"null user_id", map[string]any{"user_id": nil, "message": "hi"}, "user_id"},
		{"blank user_id", map[string]any{"user_id": "   ", "message": "hi"}, "user_id"},
		{"numeric user_id", map[string]any{"user_id": json.Number("42"), "message": "hi"}, "user_id"},
		{"missing message", map[string]any{"user_id": "u1"}, "message"},
		{"empty message", map[string]any{"user_id": "u1", "message": ""}, "message"},
		{"bad message_id", map[string]any{"user_id": "u1", "message": "hi", "message_id": json.Number("7")}, "message_id"},
		{"not an object", "just a string", "item"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(t)
			_, err := v.Validate(tt.raw)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want *ValidationError, got %T", err)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestValidate_Timestamps(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want time.Time
	}{
		{"trailing Z", "2025-03-04T05:06:07Z", time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"fractional Z", "2025-03-04T05:06:07.250Z", time.Date(2025, 3, 4, 5, 6, 7, 250_000_000, time.UTC)},
		{"offset", "2025-03-04T07:06:07+02:00", time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"no offset", "2025-03-04T05:06:07", time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)},
		{"date only", "2025-03-04", time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"structured", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"garbage falls back to now", "yesterday-ish", fixedNow},
		{"number falls back to now", json.Number("1700000000"), fixedNow},
		{"missing falls back to now", nil, fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(t)
			raw := map[string]any{"user_id": "u1", "message": "hello"}
			if tt.raw != nil {
				raw["timestamp"] = tt.raw
			}
			rec, err := v.Validate(raw)
			require.NoError(t, err)
			assert.True(t, rec.Timestamp.Equal(tt.want), "timestamp = %v, want %v", rec.Timestamp, tt.want)
		})
	}
}

func TestValidate_MessageID(t *testing.T) {
	v, _ := newTestValidator(t)

	kept, err := v.Validate(map[string]any{"user_id": "u1", "message": "hi", "message_id": "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", kept.MessageID)

	generated, err := v.Validate(map[string]any{"user_id": "u1", "message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "generated-1", generated.MessageID)

	empty, err := v.Validate(map[string]any{"user_id": "u1", "message": "hi", "message_id": ""})
	require.NoError(t, err)
	assert.Equal(t, "generated-2", empty.MessageID)
}

func TestValidateBatch_OneAnomalyPerDrop(t *testing.T) {
	v, seen := newTestValidator(t)

	bad := map[string]any{"message": "no user"}
	items := []any{
		map[string]any{"user_id": "u1", "message": "ok one"},
		bad,
		map[string]any{"user_id": "u2", "message": ""},
		map[string]any{"user_id": "u3", "message": "ok two", "timestamp": "not a time"},
		42,
	}

	got := v.ValidateBatch(items, "run-1")

	assert.LessOrEqual(t, len(got), len(items))
	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u3", got[1].UserID)

	require.Len(t, *seen, len(items)-len(got))
	for _, a := range *seen {
		assert.Equal(t, "schema_validation", a.Type)
	}
	assert.Contains(t, (*seen)[0].Attrs, bad)
}

func TestValidateBatch_EmptyIngest(t *testing.T) {
	v, seen := newTestValidator(t)

	got := v.ValidateBatch([]any{map[string]any{"user_id": ""}}, "run-2")

	assert.Empty(t, got)
	require.Len(t, *seen, 2)
	assert.Equal(t, "schema_validation", (*seen)[0].Type)
	assert.Equal(t, "empty_ingest", (*seen)[1].Type)
}

func TestParseDocument(t *testing.T) {
	arr, err := ParseDocument([]byte(`[{"user_id":"u1","message":"a"},{"user_id":"u2","message":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, arr, 2)

	wrapped, err := ParseDocument([]byte(`{"conversations":[{"user_id":"u1","message":"a"}]}`))
	require.NoError(t, err)
	assert.Len(t, wrapped, 1)

	single, err := ParseDocument([]byte(`{"user_id":"u1","message":"a"}`))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = ParseDocument([]byte(`{"conversations":"nope"}`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`"scalar"`))
	assert.Error(t, err)

	_, err = ParseDocument([]byte(`{broken`))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "conv.JSON")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"user_id":"u1","message":"a"}]`), 0o644))
	items, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	csvPath := filepath.Join(dir, "conv.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("user_id,message\n"), 0o644))
	_, err = LoadFile(csvPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
