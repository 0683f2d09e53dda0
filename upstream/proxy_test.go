package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambena/edgegate/logger"
)

func newTestGateway(t *testing.T, baseURL string, mutate func(*ClientConfig)) *Gateway {
	t.Helper()
	client := newTestClient(t, baseURL, func(cfg *ClientConfig) {
		cfg.MaxRetries = 0
		if mutate != nil {
			mutate(cfg)
		}
	})
	return NewGateway(client, logger.NewTestLogger())
}

func TestGateway_StripsCredentialAndHopByHopHeaders(t *testing.T) {
	var received http.Header
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b", nil)
	req.Header.Set("Authorization", "Bearer secret-session")
	req.Header.Set("X-Api-Key", "secret-key")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("Connection", "X-Droppable")
	req.Header.Set("X-Droppable", "value")
	req.Header.Set("X-Request-Tag", "kept")
	req.Header.Set("Accept", "application/json")

	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets/b")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, received.Get("Authorization"))
	assert.Empty(t, received.Get("X-Api-Key"))
	assert.Empty(t, received.Get("Keep-Alive"))
	assert.Empty(t, received.Get("X-Droppable"))
	assert.Equal(t, "kept", received.Get("X-Request-Tag"))
	assert.Equal(t, "application/json", received.Get("Accept"))
}

func TestGateway_StreamsLargeBody(t *testing.T) {
	payload := bytes.Repeat([]byte("edgegate-stream-"), 8192) // ~128 KiB
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Object-Version", "7")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Write(payload)
	}))
	defer backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b/objects/big.bin", nil)
	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets/b/objects/big.bin")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "7", rec.Header().Get("X-Object-Version"))
	// Hop-by-hop response headers never propagate.
	assert.Empty(t, rec.Header().Get("Keep-Alive"))

	snapshot := gw.metrics.GetSnapshot()
	assert.Equal(t, int64(len(payload)), snapshot["bytes_streamed"])
}

func TestGateway_ForwardsUpstreamStatusAndQuery(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "limit=10", r.URL.RawQuery)
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"detail":"bucket exists"}`))
	}))
	defer backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/storage/buckets?limit=10", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"detail":"bucket exists"}`, rec.Body.String())
}

func TestGateway_PreservesUploadContentLength(t *testing.T) {
	payload := bytes.Repeat([]byte("object-data-"), 1024)

	var gotLength int64
	var gotBody []byte
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		gotBody = body
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodPut, "/v1/storage/buckets/b/objects/o", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets/b/objects/o")

	require.Equal(t, http.StatusCreated, rec.Code)
	// The declared length survives the proxy hop instead of degrading
	// to chunked transfer encoding.
	assert.Equal(t, int64(len(payload)), gotLength)
	assert.Equal(t, payload, gotBody)
}

func decodeSynthetic(t *testing.T, rec *httptest.ResponseRecorder) (code string) {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.Error.Message)
	return body.Error.Code
}

func TestGateway_SynthesizesTimeoutResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets/b")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, "timeout_error", decodeSynthetic(t, rec))
}

func TestGateway_SynthesizesConnectionErrorResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	gw := newTestGateway(t, backend.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b", nil)
	rec := httptest.NewRecorder()
	gw.Forward(rec, req, "/buckets/b")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "connection_error", decodeSynthetic(t, rec))
}

func TestGateway_SynthesizesBreakerOpenResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	gw := newTestGateway(t, backend.URL, func(cfg *ClientConfig) {
		cfg.FailureThreshold = 1
	})

	// First call records the failure and opens the breaker.
	rec := httptest.NewRecorder()
	gw.Forward(rec, httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b", nil), "/buckets/b")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	gw.Forward(rec, httptest.NewRequest(http.MethodGet, "/v1/storage/buckets/b", nil), "/buckets/b")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "circuit_breaker_open", decodeSynthetic(t, rec))
}

func TestProfileForRequest(t *testing.T) {
	upload := httptest.NewRequest(http.MethodPut, "/x", bytes.NewReader([]byte("data")))
	assert.Equal(t, ProfileFileUpload, profileForRequest(upload))

	download := httptest.NewRequest(http.MethodGet, "/x", nil)
	assert.Equal(t, ProfileLong, profileForRequest(download))

	emptyPost := httptest.NewRequest(http.MethodPost, "/x", nil)
	assert.Equal(t, ProfileStandard, profileForRequest(emptyPost))

	del := httptest.NewRequest(http.MethodDelete, "/x", nil)
	assert.Equal(t, ProfileStandard, profileForRequest(del))
}
