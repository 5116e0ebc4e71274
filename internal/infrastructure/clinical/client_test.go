package clinical

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
	"go.uber.org/zap/zaptest"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

func newClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	}, zaptest.NewLogger(t))
}

func TestClient_Exists(t *testing.T) {
	known := uuid.New()

	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		if r.URL.Path == "/v1/patients/"+known.String() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	exists, err := client.Exists(context.Background(), known)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_Snapshot(t *testing.T) {
	patientID := uuid.New()

	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/patients/"+patientID.String()+"/snapshot", r.URL.Path)

		var body struct {
			Categories []string `json:"categories"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"clinical_notes"}, body.Categories)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"clinical_notes": []string{"note-1", "note-2"},
		})
	}))

	snapshot, err := client.Snapshot(context.Background(), patientID, []string{"clinical_notes"})
	require.NoError(t, err)
	assert.Contains(t, snapshot, "clinical_notes")
}

func TestClient_Rectify_ImmutableFields(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("field is legally immutable"))
	}))

	err := client.Rectify(context.Background(), uuid.New(), []string{"date_of_birth"}, "typo")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestClient_Erase_ServerError(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.Erase(context.Background(), uuid.New(), "billing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))
}

func TestClient_Timeout(t *testing.T) {
	started := make(chan struct{})
	stop := make(chan struct{})
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		// The server never observes the client disconnect because the POST
		// body is unread, so also release the handler at test cleanup to let
		// srv.Close finish.
		select {
		case <-r.Context().Done():
		case <-stop:
		}
	}))
	t.Cleanup(func() { close(stop) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Suspend(ctx, uuid.New(), "marketing")
	<-started
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestClient_NotFound(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := client.GetFullName(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
