package invoker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/renga/internal/model"
	"github.com/ashita-ai/renga/internal/testutil"
)

func TestSubstitute(t *testing.T) {
	vars := map[string]any{"name": "renga", "count": 3}

	assert.Equal(t, "hello renga", Substitute("hello {{name}}", vars))
	assert.Equal(t, "3 of 3", Substitute("{{count}} of {{count}}", vars))
	assert.Equal(t, "no placeholders", Substitute("no placeholders", vars))
	assert.Equal(t, "{{missing}} stays", Substitute("{{missing}} stays", vars),
		"unknown keys are left for the executor to see")
	assert.Equal(t, "{{name}}", Substitute("{{name}}", nil))
}

func TestLocal_Invoke(t *testing.T) {
	out, err := Local{}.Invoke(context.Background(), model.Cell{
		Content: "deploy {{env}}",
	}, map[string]any{"env": "staging"})
	require.NoError(t, err)
	assert.Equal(t, "deploy staging", out)
}

func TestWebhook_Invoke(t *testing.T) {
	var received webhookRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": "ok"}`))
	}))
	defer ts.Close()

	inv := NewWebhook(ts.URL, 5*time.Second, testutil.TestLogger())
	cell := model.Cell{
		ID:       uuid.New(),
		CellType: model.CellTypeCommand,
		Title:    "rollout",
		Content:  "kubectl rollout {{target}}",
	}

	out, err := inv.Invoke(context.Background(), cell, map[string]any{"target": "web"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "ok"}, out)
	assert.Equal(t, cell.ID.String(), received.CellID)
	assert.Equal(t, "kubectl rollout web", received.Content, "placeholders substituted before posting")
	assert.Equal(t, map[string]any{"target": "web"}, received.Variables)
}

func TestWebhook_NonJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("plain text output"))
	}))
	defer ts.Close()

	inv := NewWebhook(ts.URL, 5*time.Second, testutil.TestLogger())
	out, err := inv.Invoke(context.Background(), model.Cell{ID: uuid.New()}, nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text output", out)
}

func TestWebhook_EmptyResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	inv := NewWebhook(ts.URL, 5*time.Second, testutil.TestLogger())
	out, err := inv.Invoke(context.Background(), model.Cell{ID: uuid.New()}, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestWebhook_ExecutorError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "command not found", http.StatusBadGateway)
	}))
	defer ts.Close()

	inv := NewWebhook(ts.URL, 5*time.Second, testutil.TestLogger())
	_, err := inv.Invoke(context.Background(), model.Cell{ID: uuid.New()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "command not found")
}

func TestWebhook_Unreachable(t *testing.T) {
	inv := NewWebhook("http://127.0.0.1:1", time.Second, testutil.TestLogger())
	_, err := inv.Invoke(context.Background(), model.Cell{ID: uuid.New()}, nil)
	assert.Error(t, err)
}
