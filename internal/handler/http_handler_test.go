package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/domain"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/media"
	"github.com/weiawesome/wes-io-live/delivery-service/internal/testutil"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/response"
	"github.com/weiawesome/wes-io-live/delivery-service/pkg/storage"
)

func newHTTPRouter(t *testing.T) (*gin.Engine, *testServer) {
	t.Helper()
	ts := newTestServer(t)

	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	r := gin.New()
	NewHandler(ts.connections, media.NewStore(local, time.Hour), 1<<20).RegisterRoutes(r)
	return r, ts
}

func doJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_Health(t *testing.T) {
	r, _ := newHTTPRouter(t)

	w := doJSON(r, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandler_Presence(t *testing.T) {
	req := require.New(t)
	r, ts := newHTTPRouter(t)

	w := doJSON(r, http.MethodGet, "/api/v1/presence/ghost", nil)
	req.Equal(http.StatusNotFound, w.Code)

	_, err := ts.connections.Join(context.Background(), testutil.NewFakeHandle("c1"), &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)

	w = doJSON(r, http.MethodGet, "/api/v1/presence/alice", nil)
	req.Equal(http.StatusOK, w.Code)
	var status struct {
		Online   bool `json:"online"`
		Sessions int  `json:"sessions"`
	}
	resp := decodeResponse(t, w, &status)
	req.True(resp.Success)
	req.True(status.Online)
	req.Equal(1, status.Sessions)
}

func TestHandler_RegisterDevice(t *testing.T) {
	req := require.New(t)
	r, ts := newHTTPRouter(t)

	body := map[string]string{
		"userId":     "alice",
		"token":      "ExponentPushToken[a]",
		"device_id":  "phone",
		"token_type": "expo",
	}

	// Unknown members cannot register devices
	w := doJSON(r, http.MethodPost, "/api/v1/devices", body)
	req.Equal(http.StatusNotFound, w.Code)

	_, err := ts.connections.Join(context.Background(), testutil.NewFakeHandle("c1"), &domain.JoinRequest{UserID: "alice"})
	req.NoError(err)

	w = doJSON(r, http.MethodPost, "/api/v1/devices", body)
	req.Equal(http.StatusOK, w.Code)

	// Missing token is rejected by binding
	delete(body, "token")
	w = doJSON(r, http.MethodPost, "/api/v1/devices", body)
	req.Equal(http.StatusBadRequest, w.Code)
}

func TestHandler_Upload(t *testing.T) {
	req := require.New(t)
	r, _ := newHTTPRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "cat.png")
	req.NoError(err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89"))
	req.NoError(err)
	req.NoError(mw.Close())

	httpReq := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httpReq)

	req.Equal(http.StatusCreated, w.Code)
	var stored media.StoredMedia
	resp := decodeResponse(t, w, &stored)
	req.True(resp.Success)
	req.Equal("image", string(stored.Kind))
	req.Contains(stored.URL, "/uploads/")
}

func TestHandler_Upload_Requires_File(t *testing.T) {
	r, _ := newHTTPRouter(t)

	w := doJSON(r, http.MethodPost, "/api/v1/uploads", map[string]string{})

	require.Equal(t, http.StatusBadRequest, w.Code)
}
