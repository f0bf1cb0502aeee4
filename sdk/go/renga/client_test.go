package renga

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := NewClient(Config{BaseURL: ts.URL})
	require.NoError(t, err)
	return client
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"data": data}))
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestCreateNotebook(t *testing.T) {
	notebookID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/notebooks", r.URL.Path)

		var req CreateNotebookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "release", req.Title)

		writeEnvelope(t, w, http.StatusCreated, NotebookWithCells{
			Notebook: Notebook{ID: notebookID, Title: req.Title, Status: StatusIdle},
		})
	})

	out, err := client.CreateNotebook(context.Background(), CreateNotebookRequest{Title: "release"})
	require.NoError(t, err)
	assert.Equal(t, notebookID, out.Notebook.ID)
	assert.Equal(t, StatusIdle, out.Notebook.Status)
}

func TestRun_SendsOptions(t *testing.T) {
	notebookID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notebooks/"+notebookID.String()+"/run", r.URL.Path)

		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.StartFromCell)
		assert.Equal(t, "prod", req.Variables["env"])

		writeEnvelope(t, w, http.StatusOK, RunResult{
			NotebookID: notebookID,
			Status:     StatusCompleted,
		})
	})

	res, err := client.Run(context.Background(), notebookID, RunRequest{
		StartFromCell: 2,
		Variables:     map[string]any{"env": "prod"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestApprove_SendsDecision(t *testing.T) {
	notebookID, cellID := uuid.New(), uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notebooks/"+notebookID.String()+"/approve", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, cellID.String(), body["cell_id"])
		assert.Equal(t, "tok-123", body["approval_token"])

		writeEnvelope(t, w, http.StatusOK, ApproveResponse{
			NotebookID:   notebookID,
			CellID:       cellID,
			ContinueFrom: 3,
		})
	})

	res, err := client.Approve(context.Background(), notebookID, cellID, "tok-123")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ContinueFrom)
}

func TestCancel_NoBody(t *testing.T) {
	notebookID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notebooks/"+notebookID.String()+"/cancel", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})

	assert.NoError(t, client.Cancel(context.Background(), notebookID))
}

func TestAPIKey_Header(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-key", r.Header.Get("Authorization"))
		writeEnvelope(t, w, http.StatusOK, HealthResponse{Status: "healthy"})
	}))
	t.Cleanup(ts.Close)

	client, err := NewClient(Config{BaseURL: ts.URL, APIKey: "sk-key"})
	require.NoError(t, err)

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestNoAPIKey_NoHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeEnvelope(t, w, http.StatusOK, HealthResponse{Status: "healthy"})
	})

	_, err := client.Health(context.Background())
	require.NoError(t, err)
}

func TestErrorResponses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/notebooks/" + uuid.Nil.String():
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"not found"}}`))
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"CONFLICT","message":"a run is already in flight for this notebook"}}`))
		}
	})

	_, err := client.GetNotebook(context.Background(), uuid.Nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "not found", apiErr.Message)

	_, err = client.Run(context.Background(), uuid.New(), RunRequest{})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, IsNotFound(err))
}

func TestErrorResponse_NonEnvelopeBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := client.Health(context.Background())
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
}

func TestResponseWithoutEnvelope(t *testing.T) {
	// Responses that are not wrapped in {"data": ...} still decode.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","version":"raw"}`))
	})

	health, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "raw", health.Version)
}

func TestResume_WrapsRun(t *testing.T) {
	notebookID := uuid.New()
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 4, req.StartFromCell)
		writeEnvelope(t, w, http.StatusOK, RunResult{Status: StatusCompleted})
	})

	res, err := client.Resume(context.Background(), notebookID, 4)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}
