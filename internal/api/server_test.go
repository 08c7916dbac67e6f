// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/clipforge/internal/assets"
	"github.com/ManuGH/clipforge/internal/pipeline/coordinator"
	"github.com/ManuGH/clipforge/internal/pipeline/model"
	"github.com/ManuGH/clipforge/internal/pipeline/store"
)

func newTestServer(t *testing.T, rateLimitRPM int) (*httptest.Server, store.StateStore, *assets.Store) {
	t.Helper()
	jobStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = jobStore.Close() })

	assetStore := assets.NewStore(t.TempDir())
	require.NoError(t, assetStore.EnsureDirectories())

	seedAsset(t, assetStore, model.AssetSource, "clip.mp4")
	seedAsset(t, assetStore, model.AssetWatermark, "logo.png")

	coord := coordinator.New(jobStore, assetStore, 3)
	srv := httptest.NewServer(NewServer(coord, assetStore, rateLimitRPM).Router())
	t.Cleanup(srv.Close)
	return srv, jobStore, assetStore
}

func seedAsset(t *testing.T, s *assets.Store, kind model.AssetKind, name string) {
	t.Helper()
	dir, err := s.Dir(kind)
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("payload-"+name), 0o644))
	_, err = s.Register(kind, path, "", 0, int64(len("payload-"+name)))
	require.NoError(t, err)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const trimBody = `{
	"kind": "trim",
	"source": {"kind": "source", "id": "clip.mp4"},
	"trim": {"startSec": 1, "endSec": 9}
}`

func TestSubmitAndStatusRoundTrip(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	// 1. Submit is accepted and returns the job fan-out
	resp := postJSON(t, srv.URL+"/api/requests", trimBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	sub := decodeBody[submitResponse](t, resp)
	require.NotEmpty(t, sub.RequestID)
	require.Len(t, sub.JobIDs, 1)

	// 2. Status reflects the pending child job
	resp2, err := http.Get(srv.URL + "/api/requests/" + sub.RequestID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	st := decodeBody[model.RequestStatus](t, resp2)
	assert.Equal(t, model.RequestRunning, st.State)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, model.JobPending, st.Jobs[0].State)
}

func TestSubmit_ValidationFailures(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"unknown field", `{"kind":"trim","source":{"kind":"source","id":"clip.mp4"},"trim":{"startSec":0,"endSec":5},"oops":1}`},
		{"unknown kind", `{"kind":"resample","source":{"kind":"source","id":"clip.mp4"}}`},
		{"dangling source", `{"kind":"trim","source":{"kind":"source","id":"ghost.mp4"},"trim":{"startSec":0,"endSec":5}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/requests", tc.body)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestStatus_UnknownRequest(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	resp, err := http.Get(srv.URL + "/api/requests/does-not-exist")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	resp := postJSON(t, srv.URL+"/api/requests", trimBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decodeBody[submitResponse](t, resp)

	resp2 := postJSON(t, srv.URL+"/api/requests/"+sub.RequestID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	st := decodeBody[model.RequestStatus](t, resp2)
	assert.Equal(t, model.RequestFailed, st.State)
	require.Len(t, st.Jobs, 1)
	assert.Equal(t, model.RCancelled, st.Jobs[0].Reason)
}

func TestSubmitRateLimit(t *testing.T) {
	srv, _, _ := newTestServer(t, 2)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, srv.URL+"/api/requests", trimBody)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		_ = resp.Body.Close()
	}
	resp := postJSON(t, srv.URL+"/api/requests", trimBody)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestAssetEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)

	// 1. List a populated kind
	resp, err := http.Get(srv.URL + "/api/assets/source")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	records := decodeBody[[]model.AssetRecord](t, resp)
	require.Len(t, records, 1)
	assert.Equal(t, "clip.mp4", records[0].ID)

	// 2. Empty kind lists as an empty array, not null
	resp, err = http.Get(srv.URL + "/api/assets/output")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]model.AssetRecord](t, resp))

	// 3. Unknown kind is a client error
	resp, err = http.Get(srv.URL + "/api/assets/floppy")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// 4. Download an existing asset
	resp, err = http.Get(srv.URL + "/api/assets/watermark/logo.png")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	_ = resp.Body.Close()
	assert.Equal(t, "payload-logo.png", string(body[:n]))

	// 5. Traversal attempts never leave the asset root
	resp, err = http.Get(srv.URL + "/api/assets/source/..%2F..%2Fetc%2Fpasswd")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.NotEqual(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, 0)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}
