package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"knowgraph/application/commands/bus"
	commandhandlers "knowgraph/application/commands/handlers"
	querybus "knowgraph/application/queries/bus"
	queryhandlers "knowgraph/application/queries/handlers"
	"knowgraph/application/services"
	"knowgraph/domain/versioning"
	"knowgraph/infrastructure/persistence/schema"
	"knowgraph/infrastructure/persistence/sqlite"
	"knowgraph/pkg/observability"
)

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func setupRouter(t *testing.T, opts Options) (http.Handler, *sqlite.Store) {
	t.Helper()
	logger := zap.NewNop()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "graphs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	metrics := observability.NewCollector("test")
	svc := services.NewGraphHistoryService(store,
		versioning.NewVersioningService(versioning.DefaultRetentionPolicy()),
		schema.NewRegistry(), nil, nil, metrics, nil, logger)

	commandBus := bus.NewCommandBus()
	require.NoError(t, commandhandlers.RegisterGraphCommands(commandBus, svc, logger))
	queryBus := querybus.NewQueryBus()
	require.NoError(t, queryhandlers.RegisterGraphQueries(queryBus, svc))

	return NewRouter(commandBus, queryBus, store, metrics, opts, logger).Setup(), store
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

const firstSave = `{
	"id": "g1",
	"override": true,
	"graphData": {
		"metadata": {"title": "T", "version": 0},
		"nodes": [{"id": "n1", "label": "One"}, {"id": "n2", "label": "Two"}],
		"edges": [{"source": "n1", "target": "n2"}]
	}
}`

func TestSaveThenHistory(t *testing.T) {
	h, _ := setupRouter(t, Options{MaxBodyBytes: 1 << 20})

	rec, body := do(t, h, http.MethodPost, "/saveGraphWithHistory", firstSave)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Graph saved with history", body["message"])
	assert.Equal(t, "g1", body["id"])
	assert.EqualValues(t, 1, body["newVersion"])

	rec, body = do(t, h, http.MethodGet, "/getknowgraphhistory?id=g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", body["graphId"])
	history := body["history"].([]interface{})
	require.Len(t, history, 1)
	entry := history[0].(map[string]interface{})
	assert.EqualValues(t, 1, entry["version"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestGetGraph_NormalizedShape(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", firstSave)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/getknowgraph?id=g1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	edges := body["edges"].([]interface{})
	assert.Equal(t, map[string]interface{}{"id": "n1_n2", "source": "n1", "target": "n2"}, edges[0])

	node := body["nodes"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{}, node["bibl"])
	assert.Equal(t, true, node["visible"])
	assert.Nil(t, node["type"])
	assert.Contains(t, node, "type")
	assert.Equal(t, map[string]interface{}{"x": 0.0, "y": 0.0}, node["position"])

	metadata := body["metadata"].(map[string]interface{})
	assert.EqualValues(t, 1, metadata["version"])
}

func TestSave_StaleVersionConflicts(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", firstSave)
	require.Equal(t, http.StatusOK, rec.Code)

	stale := `{"id":"g1","graphData":{"metadata":{"version":0},"nodes":[],"edges":[]}}`
	rec, body := do(t, h, http.MethodPost, "/saveGraphWithHistory", stale)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Version conflict", body["error"])
	assert.EqualValues(t, 1, body["currentVersion"])
}

func TestSave_BadRequests(t *testing.T) {
	h, _ := setupRouter(t, Options{MaxBodyBytes: 256})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing id", `{"graphData":{"metadata":{},"nodes":[],"edges":[]}}`, http.StatusBadRequest},
		{"missing graphData", `{"id":"g1"}`, http.StatusBadRequest},
		{"malformed json", `{"id":`, http.StatusBadRequest},
		{"node without id", `{"id":"g1","graphData":{"metadata":{},"nodes":[{"label":"x"}],"edges":[]}}`, http.StatusBadRequest},
		{"empty graphData", `{"id":"g2","override":false,"graphData":{}}`, http.StatusBadRequest},
		{"graphData without metadata", `{"id":"g2","graphData":{"nodes":[],"edges":[]}}`, http.StatusBadRequest},
		{"fractional version", `{"id":"g2","graphData":{"metadata":{"version":1.9},"nodes":[],"edges":[]}}`, http.StatusBadRequest},
		{"too large", `{"id":"g1","graphData":{"metadata":{"title":"` + strings.Repeat("x", 512) + `"}}}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/saveGraphWithHistory", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestReads_NotFoundAndValidation(t *testing.T) {
	h, _ := setupRouter(t, Options{})

	tests := []struct {
		target string
		status int
	}{
		{"/getknowgraph?id=missing", http.StatusNotFound},
		{"/getknowgraph", http.StatusBadRequest},
		{"/getknowgraphhistory?id=missing", http.StatusNotFound},
		{"/getknowgraphhistory", http.StatusBadRequest},
		{"/getknowgraphversion?id=missing&version=1", http.StatusNotFound},
		{"/getknowgraphversion?id=g1&version=abc", http.StatusBadRequest},
		{"/getknowgraphversion?id=g1&version=0", http.StatusBadRequest},
		{"/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec, _ := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestGetGraphVersion_KeepsEdgeLabels(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	body := `{"id":"g1","graphData":{"metadata":{"version":0},"nodes":[{"id":"a"},{"id":"b"}],` +
		`"edges":[{"id":"e1","source":"a","target":"b","label":"cites"}]}}`
	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, got := do(t, h, http.MethodGet, "/getknowgraphversion?id=g1&version=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	edge := got["edges"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "e1", edge["id"])
	assert.Equal(t, "cites", edge["label"])
}

func TestListAndDelete(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", firstSave)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/getknowgraphs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["results"], 1)

	rec, body = do(t, h, http.MethodPost, "/deleteknowgraph", `{"id":"g1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g1", body["id"])

	rec, _ = do(t, h, http.MethodPost, "/deleteknowgraph", `{"id":"g1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, h, http.MethodGet, "/getknowgraphs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{}, body["results"])
}

func TestHealthReadyMetrics(t *testing.T) {
	h, _ := setupRouter(t, Options{EnableMetrics: true})

	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])

	rec, body = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_http_requests_total")
}

func TestReady_StoreDown(t *testing.T) {
	logger := zap.NewNop()
	h := NewRouter(bus.NewCommandBus(), querybus.NewQueryBus(), failingPinger{}, nil, Options{}, logger).Setup()

	rec, body := do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UNAVAILABLE", body["type"])
}

func TestSave_StringImageDimensions(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	body := `{"id":"g1","override":true,"graphData":{"metadata":{"title":"Hello","version":0},"nodes":[` +
		`{"id":"n1","label":"Hello","color":"#fff","type":"fulltext","info":"text","bibl":["https://hello.vegvisr.org"],` +
		`"imageWidth":null,"imageHeight":null,"visible":true,"position":{"x":0,"y":0},"path":null},` +
		`{"id":"n2","color":"#FF0000","label":"YouTube: Video","type":"youtube-video","info":"Video attached",` +
		`"bibl":["https://youtu.be/x"],"imageWidth":"100%","imageHeight":"100%","visible":true,` +
		`"position":{"x":200,"y":0},"path":"https://youtu.be/x"}],` +
		`"edges":[{"id":"edge_1","source":"n1","target":"n2","label":"has video"}]}}`

	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, got := do(t, h, http.MethodGet, "/getknowgraph?id=g1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	nodes := got["nodes"].([]interface{})
	first := nodes[0].(map[string]interface{})
	assert.Nil(t, first["imageWidth"])
	video := nodes[1].(map[string]interface{})
	assert.Equal(t, "100%", video["imageWidth"])
	assert.Equal(t, "100%", video["imageHeight"])
}

func TestSave_IntegralVersionStillChecked(t *testing.T) {
	h, _ := setupRouter(t, Options{})
	rec, _ := do(t, h, http.MethodPost, "/saveGraphWithHistory", firstSave)
	require.Equal(t, http.StatusOK, rec.Code)

	next := `{"id":"g1","graphData":{"metadata":{"version":1.0},"nodes":[],"edges":[]}}`
	rec, body := do(t, h, http.MethodPost, "/saveGraphWithHistory", next)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, body["newVersion"])

	rec, _ = do(t, h, http.MethodGet, "/getknowgraphversion?id=g1&version=3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
