package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"podpiska-billing/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestElasticsearch(t *testing.T, status int) (*Elasticsearch, *[]string, *[]Event) {
	t.Helper()
	var mu sync.Mutex
	paths := []string{}
	events := []Event{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		json.NewDecoder(r.Body).Decode(&ev)

		mu.Lock()
		paths = append(paths, r.Method+" "+r.URL.Path)
		events = append(events, ev)
		mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"result":"created"}`))
	}))
	t.Cleanup(server.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	return NewElasticsearch(client, "billing-events", logger.NewTestLogger(t)), &paths, &events
}

func TestElasticsearch_Record(t *testing.T) {
	j, paths, events := createTestElasticsearch(t, http.StatusCreated)

	j.Record(context.Background(), Event{
		Type:       EventChargeDeclined,
		UserID:     42,
		TrackingID: "42:1700000000",
		Reason:     "card_declined",
	})

	require.Len(t, *paths, 1)
	assert.True(t, strings.HasPrefix((*paths)[0], "PUT /billing-events/_doc/"))

	ev := (*events)[0]
	assert.Equal(t, EventChargeDeclined, ev.Type)
	assert.Equal(t, int64(42), ev.UserID)
	assert.Equal(t, "card_declined", ev.Reason)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.At.IsZero())
}

func TestElasticsearch_RecordErrorIsSwallowed(t *testing.T) {
	j, paths, _ := createTestElasticsearch(t, http.StatusServiceUnavailable)

	assert.NotPanics(t, func() {
		j.Record(context.Background(), Event{Type: EventAccessRevoked, UserID: 1})
	})
	assert.NotEmpty(t, *paths)
}

func TestNop(t *testing.T) {
	var j Journal = Nop{}
	assert.NotPanics(t, func() { j.Record(context.Background(), Event{}) })
}
