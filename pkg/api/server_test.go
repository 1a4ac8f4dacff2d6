package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purser-io/purser/pkg/adapter"
	"github.com/purser-io/purser/pkg/ledger"
	"github.com/purser-io/purser/pkg/log"
	"github.com/purser-io/purser/pkg/storage"
	"github.com/purser-io/purser/pkg/taskengine"
	"github.com/purser-io/purser/pkg/tasks"
	"github.com/purser-io/purser/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel})
	os.Exit(m.Run())
}

type fixture struct {
	server *Server
	engine *taskengine.Engine
	store  storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := taskengine.New(store, nil)
	l := ledger.NewLedger(store)
	registry := adapter.NewRegistry()
	registry.Register(adapter.NewMockAdapter(store, types.ResourceTypeContainer))

	services := &tasks.Services{
		Engine:   engine,
		Store:    store,
		Ledger:   l,
		Adapters: registry,
	}
	require.NoError(t, services.RegisterAll())

	return &fixture{
		server: NewServer(engine, store, l),
		engine: engine,
		store:  store,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestCreateRequest(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/requests/broker", `{
		"operation": "PROVISION_RESOURCE",
		"resourceType": "container",
		"resourceDescriptionLink": "/descriptions/containers/web",
		"resourceCount": 2,
		"resourcePoolLink": "p1"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var task types.TaskDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, "broker", task.Kind)
	assert.Contains(t, task.SelfLink, taskengine.RequestsPrefix)

	f.engine.Wait()
	final, err := f.engine.Get(context.Background(), task.SelfLink)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStageFinished, final.Stage)
	assert.Len(t, final.ResourceLinks, 2)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"operation":`},
		{name: "missing operation", body: `{"resourceType": "container"}`},
		{name: "unknown operation", body: `{"operation": "SCALE", "resourceType": "container"}`},
		{name: "missing resource type", body: `{"operation": "PROVISION_RESOURCE"}`},
		{
			name: "domain validation",
			body: `{"operation": "PROVISION_RESOURCE", "resourceType": "container"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/requests/broker", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetRequestNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/requests/broker/absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchRequestConflict(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/requests/broker", `{
		"operation": "PROVISION_RESOURCE",
		"resourceType": "container",
		"resourceDescriptionLink": "/descriptions/containers/web",
		"resourceCount": 1
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f.engine.Wait()

	var task types.TaskDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	id := strings.TrimPrefix(task.SelfLink, taskengine.RequestsPrefix+"broker/")

	// documentVersion 1 is long stale by the time the chain settles.
	rec = f.do(t, http.MethodPatch, "/requests/broker/"+id, `{
		"documentVersion": 1,
		"failure": "late patch"
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPatchRequestRequiresVersion(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPatch, "/requests/broker/some-id", `{"failure": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteRequestIdempotent(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodDelete, "/requests/broker/never-existed", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/requests/broker/never-existed?expirationTimeMicros=123", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, "/requests/broker/x?expirationTimeMicros=nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaRoundTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/placements/p1/quota", `{"maxNumberInstances": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/placements/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var p types.Placement
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, int64(5), p.MaxInstances)
}

func TestGetPlacementNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/placements/absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListResources(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.CreateResource(&types.ResourceState{
		SelfLink:        "/resources/r1",
		Type:            types.ResourceTypeContainer,
		DescriptionLink: "/descriptions/containers/web",
	}))
	require.NoError(t, f.store.CreateResource(&types.ResourceState{
		SelfLink:        "/resources/r2",
		Type:            types.ResourceTypeContainer,
		DescriptionLink: "/descriptions/containers/db",
	}))

	rec := f.do(t, http.MethodGet, "/resources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []types.ResourceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = f.do(t, http.MethodGet, "/resources?descriptionLink=/descriptions/containers/web", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered []types.ResourceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	require.Len(t, filtered, 1)
	assert.Equal(t, "/resources/r1", filtered[0].SelfLink)

	rec = f.do(t, http.MethodGet, "/resources/r1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/resources/absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportTemplate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/templates", `
metadata:
  name: app
spec:
  containers:
    - name: web
      image: nginx:alpine
`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var composite types.CompositeDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &composite))
	assert.Equal(t, "app", composite.Name)
	require.Len(t, composite.Containers, 1)

	rec = f.do(t, http.MethodPost, "/templates", `kind: Deployment`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "purser_")
}
