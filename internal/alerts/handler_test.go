package alerts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(bus *Bus) http.Handler {
	r := chi.NewRouter()
	NewHandler(bus, nil).RegisterRoutes(r)
	return r
}

func TestHandlerListAndResolve(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	a := bus.Publish(context.Background(), Alert{Type: TypeNoChannel, Severity: SeverityWarning})
	router := newTestRouter(bus)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), a.ID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/"+a.ID+"/resolve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/"+a.ID+"/resolve", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerStream(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	existing := bus.Publish(context.Background(), Alert{Type: TypeNoChannel, Severity: SeverityWarning})

	srv := httptest.NewServer(newTestRouter(bus))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/alerts/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first Alert
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, existing.ID, first.ID)

	// the subscription is registered before the snapshot is written
	fresh := bus.Publish(context.Background(), Alert{Type: TypeRescheduleRequest, Severity: SeverityHigh, Audio: true})
	var second Alert
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, fresh.ID, second.ID)
	assert.True(t, second.Audio)
}
