package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/supa-backup/internal/config"
)

func TestEventText(t *testing.T) {
	e := Event{Status: "partial", Message: "backup shop", Resources: map[string]string{"storage": "partial", "database": "succeeded"}}
	assert.Equal(t, "[partial] backup shop (database=succeeded storage=partial)", e.Text())

	e = Event{Status: "failed", Message: "restore shop", Error: "dump missing"}
	assert.Equal(t, "[failed] restore shop: dump missing", e.Text())
}

func TestFromConfigDelivers(t *testing.T) {
	var webhook Event
	var chat map[string]string
	var matrixMethod, matrixAuth, matrixPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/hook":
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&webhook))
		case r.URL.Path == "/mm":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&chat))
		default:
			matrixMethod, matrixAuth, matrixPath = r.Method, r.Header.Get("Authorization"), r.URL.Path
		}
	}))
	defer srv.Close()

	multi := FromConfig(config.NotificationsConfig{
		Webhooks:   []config.WebhookConfig{{Name: "ops", URL: srv.URL + "/hook", Headers: map[string]string{"X-Test": "yes"}}},
		Mattermost: []config.MattermostHook{{Name: "chat", URL: srv.URL + "/mm"}},
		Matrix:     []config.MatrixConfig{{Name: "mx", ServerURL: srv.URL, AccessToken: "tok", RoomID: "!room:x"}},
	})
	require.False(t, multi.Empty())

	err := multi.Notify(context.Background(), Event{ID: "op-1", Type: "backup", Status: "succeeded", Message: "backup shop", Resources: map[string]string{"database": "succeeded"}})
	require.NoError(t, err)

	assert.Equal(t, "op-1", webhook.ID)
	assert.Equal(t, "succeeded", webhook.Resources["database"])
	assert.Equal(t, "[succeeded] backup shop (database=succeeded)", chat["text"])
	assert.Equal(t, http.MethodPut, matrixMethod)
	assert.Equal(t, "Bearer tok", matrixAuth)
	assert.Equal(t, "/_matrix/client/v3/rooms/!room:x/send/m.room.message/op-1", matrixPath)
}

func TestMultiJoinsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	multi := Multi{Targets: []Notifier{Webhook{Name: "a", URL: srv.URL}, nil, Mattermost{Name: "b", URL: srv.URL}}}
	err := multi.Notify(context.Background(), Event{Status: "failed"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook a")
	assert.Contains(t, err.Error(), "mattermost b")
}
