package reschedule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerListAndResolve(t *testing.T) {
	wf, _ := newTestWorkflow(&recordingAlerts{})
	req, _, err := wf.Open(context.Background(), openInput("remarcar"))
	require.NoError(t, err)

	r := chi.NewRouter()
	NewHandler(wf, nil).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reschedules", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Requests []Request `json:"requests"`
		Count    int       `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, req.ID, list.Requests[0].ID)

	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reschedules/"+req.ID.String()+"/resolve", strings.NewReader(`{"notes":"done"}`)))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reschedules?status=resolved", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestHandlerResolveErrors(t *testing.T) {
	wf, _ := newTestWorkflow(nil)
	pending, _, err := wf.Open(context.Background(), openInput("remarcar"))
	require.NoError(t, err)
	r := chi.NewRouter()
	NewHandler(wf, nil).RegisterRoutes(r)

	tests := []struct {
		path string
		body string
		want int
	}{
		{"/reschedules/nope/resolve", "", http.StatusBadRequest},
		{"/reschedules/" + uuid.NewString() + "/resolve", `{"notes":"x"}`, http.StatusNotFound},
		{"/reschedules/" + pending.ID.String() + "/resolve", "", http.StatusUnprocessableEntity},
		{"/reschedules/" + pending.ID.String() + "/resolve", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))
		assert.Equal(t, tt.want, rec.Code, tt.path)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reschedules?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
