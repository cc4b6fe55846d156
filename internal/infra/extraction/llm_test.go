package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
)

func completion(content string) []byte {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return body
}

func newTestLLM(t *testing.T, url string) *LLM {
	t.Helper()
	l, err := NewLLM(LLMConfig{
		BaseURL: url + "/",
		Model:   "test-model",
		APIKey:  "secret",
		Timeout: time.Second,
		Retry:   schederrors.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return l
}

func TestLLMExtractRepairsAndConverts(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		content := "```json\n{\"duration_minutes\": 45, \"days\": [\"tuesday\"], \"time_of_day\": \"afternoon\", " +
			"\"anchor\": {\"relation\": \"after\", \"event_id\": \"ev-1\", \"offset_minutes\": 15}, " +
			"\"intent\": \"none\", \"title\": \"Sync\", \"attendees\": [\"a@b.co\", \"nope\"],}\n```"
		_, _ = w.Write(completion(content))
	}))
	defer srv.Close()

	events := []scheduling.BusyInterval{{EventID: "ev-1", Title: "Dentist", Start: day(3, 15, 0), End: day(3, 16, 0)}}
	turn, err := newTestLLM(t, srv.URL).Extract(context.Background(), Request{
		Text:   "45 min tuesday afternoon after the dentist, call it Sync",
		Now:    monday,
		Events: events,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Contains(t, captured.Messages[1].Content, `"id":"ev-1"`)
	assert.Contains(t, captured.Messages[1].Content, `"now":"2026-02-02T09:00"`)

	assert.Equal(t, 45*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, []scheduling.DayPreference{scheduling.OnWeekday(time.Tuesday)}, turn.Delta.Days)
	assert.Equal(t, scheduling.Afternoon, *turn.Delta.TimeOfDay)
	require.NotNil(t, turn.Delta.Ambiguous)
	assert.False(t, *turn.Delta.Ambiguous)
	require.NotNil(t, turn.Delta.Anchor)
	assert.Equal(t, "ev-1", turn.Delta.Anchor.EventID)
	assert.Equal(t, "Dentist", turn.Delta.Anchor.Label)
	assert.Equal(t, day(3, 15, 0), turn.Delta.Anchor.Start)
	assert.Equal(t, 15*time.Minute, turn.Delta.Anchor.Offset)
	assert.Equal(t, "Sync", turn.Metadata.Title)
	assert.Equal(t, []string{"a@b.co"}, turn.Metadata.Attendees)
	assert.Equal(t, negotiation.IntentNone, turn.Intent)
}

func TestLLMExtractSelectionAndBounds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(completion(`Sure! {"selection": {"ordinal": 2}, "intent": "affirm", "earliest": "2026-02-03T13:00"}`))
	}))
	defer srv.Close()

	turn, err := newTestLLM(t, srv.URL).Extract(context.Background(), Request{
		Text:  "the second one, yes",
		Now:   monday,
		Phase: negotiation.PhaseProposing,
	})
	require.NoError(t, err)
	require.NotNil(t, turn.Selection)
	assert.Equal(t, 2, turn.Selection.Ordinal)
	assert.Equal(t, negotiation.IntentAffirm, turn.Intent)
	assert.Equal(t, day(3, 13, 0), *turn.Delta.Earliest)
}

func TestLLMRetriesTransientStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(completion(`{"duration_minutes": 30}`))
	}))
	defer srv.Close()

	turn, err := newTestLLM(t, srv.URL).Extract(context.Background(), Request{Text: "30 min", Now: monday})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, *turn.Delta.Duration)
	assert.Equal(t, int32(2), hits.Load())
}

func TestLLMDoesNotRetryAuthFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestLLM(t, srv.URL).Extract(context.Background(), Request{Text: "30 min", Now: monday})
	require.Error(t, err)
	assert.True(t, schederrors.IsUnauthorized(err))
	assert.Equal(t, int32(1), hits.Load())
}

func TestLLMRejectsInvalidFields(t *testing.T) {
	for name, content := range map[string]string{
		"time of day": `{"time_of_day": "brunch"}`,
		"day":         `{"days": ["someday"]}`,
		"duration":    `{"duration_minutes": -5}`,
		"relation":    `{"anchor": {"relation": "during"}}`,
		"not json":    `I could not understand that`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(completion(content))
			}))
			defer srv.Close()

			_, err := newTestLLM(t, srv.URL).Extract(context.Background(), Request{Text: "x", Now: monday})
			require.Error(t, err)
			assert.True(t, schederrors.IsPermanent(err))
		})
	}
}

func TestNewLLMValidates(t *testing.T) {
	_, err := NewLLM(LLMConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewLLM(LLMConfig{BaseURL: "http://localhost"})
	assert.Error(t, err)
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
	assert.True(t, strings.HasPrefix(previewText(strings.Repeat("x", 500)), strings.Repeat("x", 256)))
}
