package store

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { st.Close() })
	return st
}

func TestInitIdempotent(t *testing.T) {
	st := setupTestStore(t)

	// New already ran Init once; a second activation must be a no-op
	require.NoError(t, st.Init())
	require.NoError(t, st.Init())
}

func TestAppendAndRecent(t *testing.T) {
	st := setupTestStore(t)

	for i := 0; i < 5; i++ {
		at := fmt.Sprintf("2026-08-30T10:00:0%d.000Z", i)
		err := st.AppendUpdate("form-1", fmt.Sprintf("id-%d", i), "sess-a",
			[]byte(fmt.Sprintf(`{"n":%d}`, i)), at)
		require.NoError(t, err)
	}

	records, err := st.RecentUpdates("form-1", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first
	assert.Equal(t, "id-4", records[0].ID)
	assert.Equal(t, "id-3", records[1].ID)
	assert.Equal(t, "id-2", records[2].ID)

	payload, ok := records[0].Payload.(map[string]any)
	require.True(t, ok, "payload should decode to a map")
	assert.Equal(t, float64(4), payload["n"])
	assert.Equal(t, "sess-a", records[0].By)
}

func TestRecentEmptyRoom(t *testing.T) {
	st := setupTestStore(t)

	records, err := st.RecentUpdates("no-such-form", 20)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRecentTimestampTieBreak(t *testing.T) {
	st := setupTestStore(t)

	// Identical timestamps: acceptance order breaks the tie
	at := "2026-08-30T10:00:00.000Z"
	for i := 0; i < 3; i++ {
		err := st.AppendUpdate("form-1", fmt.Sprintf("tie-%d", i), "sess-a", []byte("{}"), at)
		require.NoError(t, err)
	}

	records, err := st.RecentUpdates("form-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "tie-2", records[0].ID)
	assert.Equal(t, "tie-1", records[1].ID)
	assert.Equal(t, "tie-0", records[2].ID)
}

func TestRecentIsolatesForms(t *testing.T) {
	st := setupTestStore(t)

	require.NoError(t, st.AppendUpdate("form-a", "a-1", "s", []byte("1"), "2026-08-30T10:00:00.000Z"))
	require.NoError(t, st.AppendUpdate("form-b", "b-1", "s", []byte("2"), "2026-08-30T10:00:01.000Z"))

	records, err := st.RecentUpdates("form-a", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a-1", records[0].ID)
}

func TestCorruptPayloadReturnedAsString(t *testing.T) {
	st := setupTestStore(t)

	require.NoError(t, st.AppendUpdate("form-1", "good", "s", []byte(`{"x":1}`), "2026-08-30T10:00:00.000Z"))
	require.NoError(t, st.AppendUpdate("form-1", "bad", "s", []byte(`{not json`), "2026-08-30T10:00:01.000Z"))

	records, err := st.RecentUpdates("form-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "{not json", records[0].Payload, "undecodable payload comes back raw")
	_, ok := records[1].Payload.(map[string]any)
	assert.True(t, ok, "decodable payload comes back structured")
}

func TestLogSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.AppendUpdate("form-1", "id-1", "s", []byte("{}"), "2026-08-30T10:00:00.000Z"))
	require.NoError(t, st.Close())

	st, err = New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	records, err := st.RecentUpdates("form-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "id-1", records[0].ID)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"1.5", 20},
		{"0", 1},
		{"-5", 1},
		{"1", 1},
		{"50", 50},
		{"100", 100},
		{"1000", 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.raw, 20, 100), "raw=%q", tt.raw)
	}
}

func TestFormOperations(t *testing.T) {
	st := setupTestStore(t)

	schema := `{"fields":[{"id":"email","label":"Email","type":"email"}]}`
	require.NoError(t, st.CreateForm("form-1", "Lead Capture", "lead-capture", schema))

	form, err := st.GetForm("form-1")
	require.NoError(t, err)
	require.NotNil(t, form)
	assert.Equal(t, "Lead Capture", form.Name)
	assert.Equal(t, "lead-capture", form.Slug)
	assert.Equal(t, schema, form.SchemaJSON)

	form, err = st.GetForm("missing")
	require.NoError(t, err)
	assert.Nil(t, form, "missing form should return nil, not an error")

	forms, err := st.ListForms(100)
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}

func TestSubmissionOperations(t *testing.T) {
	st := setupTestStore(t)

	require.NoError(t, st.CreateForm("form-1", "F", "f", "{}"))
	for i := 0; i < 3; i++ {
		err := st.CreateSubmission(fmt.Sprintf("sub-%d", i), "form-1",
			fmt.Sprintf(`{"i":%d}`, i), `{"ua":"test"}`)
		require.NoError(t, err)
	}

	subs, err := st.ListSubmissions("form-1", 2)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	subs, err = st.ListSubmissions("form-1", 50)
	require.NoError(t, err)
	assert.Len(t, subs, 3)
}

func TestEventCountsAndTopFields(t *testing.T) {
	st := setupTestStore(t)

	events := []struct {
		eventType string
		fieldID   string
	}{
		{"view", ""},
		{"view", ""},
		{"start", ""},
		{"complete", ""},
		{"field_focus", "email"},
		{"field_focus", "email"},
		{"field_focus", "name"},
	}
	for i, e := range events {
		err := st.LogFormEvent(fmt.Sprintf("ev-%d", i), "form-1", e.eventType, e.fieldID, "")
		require.NoError(t, err)
	}

	counts, err := st.EventCounts("form-1")
	require.NoError(t, err)
	assert.Equal(t, 2, counts["view"])
	assert.Equal(t, 1, counts["start"])
	assert.Equal(t, 1, counts["complete"])
	assert.Equal(t, 3, counts["field_focus"])

	top, err := st.TopFocusedFields("form-1", 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "email", top[0].FieldID)
	assert.Equal(t, 2, top[0].Count)
}

func TestStats(t *testing.T) {
	st := setupTestStore(t)

	require.NoError(t, st.CreateForm("form-1", "F", "f", "{}"))
	require.NoError(t, st.AppendUpdate("form-1", "u-1", "s", []byte("{}"), "2026-08-30T10:00:00.000Z"))
	require.NoError(t, st.CreateSubmission("sub-1", "form-1", "{}", ""))

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["form_count"])
	assert.Equal(t, 1, stats["update_count"])
	assert.Equal(t, 1, stats["submission_count"])
}
