package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhangun/wayang-inference/internal/bootstrap"
	"github.com/bhangun/wayang-inference/internal/registry"
	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
	"github.com/bhangun/wayang-inference/pkg/apitypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRegistryConfig() registry.Config {
	return registry.Config{
		MaxWorkersPerModel:      2,
		DrainTimeout:            time.Second,
		SpawnWaitTimeout:        5 * time.Second,
		SystemMemoryCapFraction: 0.8,
		ChannelCapacity:         8,
	}
}

// newTestServer builds a real Server wired against the reference loaders
// (hashembed for text-embedding, noise for text-to-image, echo for vision)
// with one descriptor registered per capability, so the route table can be
// exercised end to end without real model weights.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	byCap := map[string][]*descriptor.Descriptor{
		registry.CapTextEmbedding: {{
			Name: "hashembed-test", RegistryKey: "hashembed-test",
			Modality: descriptor.Modality{EmbeddingDim: 16},
		}},
	}

	reg, err := registry.New(testRegistryConfig(), testLogger(), byCap, nil)
	require.NoError(t, err)

	models, err := bootstrap.Build(reg)
	require.NoError(t, err)

	srv := New("127.0.0.1:0", 5*time.Second, 5*time.Second, reg, models, nil, testLogger(), "test")
	return srv
}

func TestEmbeddingHandlerReturnsVectors(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(apitypes.EmbeddingRequest{Input: []string{"hello", "world"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp apitypes.EmbeddingResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Len(t, resp.Data[0].Embedding, 16)
}

func TestEmbeddingHandlerRejectsEmptyInput(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(apitypes.EmbeddingRequest{Input: nil})
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.engine.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestEmbeddingHandlerUnknownModelReturnsError(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(apitypes.EmbeddingRequest{Model: "does-not-exist", Input: []string{"x"}})
	req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	s.engine.ServeHTTP(w, req)

	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestHealthHandlerReportsEveryCapabilityPool(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp apitypes.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Len(t, resp.Pools, 5)
}

func TestModelsHandlerListsRegisteredDescriptors(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp apitypes.ModelListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	var found bool
	for _, m := range resp.Data {
		if m.ID == "hashembed-test" {
			found = true
		}
	}
	assert.True(t, found)
}
