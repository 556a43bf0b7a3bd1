package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/delivery-service/internal/notify"
)

func TestExpoNotifier_Push(t *testing.T) {
	req := require.New(t)

	var got notify.PushMessage
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"status":"ok","id":"ticket-1"}}`))
	}))
	defer srv.Close()

	n := notify.NewExpoNotifier(notify.ExpoConfig{URL: srv.URL, AccessToken: "secret"})

	err := n.Push(context.Background(), notify.PushMessage{To: "ExponentPushToken[x]", Title: "Alice", Body: "hi"})

	req.NoError(err)
	req.Equal("Bearer secret", auth)
	req.Equal("ExponentPushToken[x]", got.To)
	req.Equal("hi", got.Body)
}

func TestExpoNotifier_Push_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http status", status: http.StatusInternalServerError, body: `oops`},
		{name: "request errors", status: http.StatusOK, body: `{"errors":[{"code":"VALIDATION_ERROR","message":"bad"}]}`},
		{name: "ticket error", status: http.StatusOK, body: `{"data":{"status":"error","message":"DeviceNotRegistered"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			n := notify.NewExpoNotifier(notify.ExpoConfig{URL: srv.URL})
			require.Error(t, n.Push(context.Background(), notify.PushMessage{To: "t", Body: "b"}))
		})
	}
}
