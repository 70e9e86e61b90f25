package whatsapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/events"
)

type recordingApplier struct {
	events []channels.StatusEvent
	err    error
}

func (r *recordingApplier) Apply(_ context.Context, ev channels.StatusEvent) (bool, error) {
	r.events = append(r.events, ev)
	return r.err == nil, r.err
}

func TestParseStatusEvent(t *testing.T) {
	ev, err := ParseStatusEvent([]byte(`{"id":"e1","instance":"ch-1","type":"banned","reason":"spam","timestamp":1773154800}`))
	require.NoError(t, err)
	assert.Equal(t, channels.EventBlocked, ev.Kind)
	assert.Equal(t, "ch-1", ev.ChannelID)
	assert.Equal(t, int64(1773154800), ev.OccurredAt.Unix())

	_, err = ParseStatusEvent([]byte(`{"instance":"ch-1","type":"sleeping"}`))
	assert.Error(t, err)
	_, err = ParseStatusEvent([]byte(`{"type":"connected"}`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.NoError(t, VerifySignature("s3cret", Sign("s3cret", body), body))
	assert.ErrorIs(t, VerifySignature("s3cret", Sign("other", body), body), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", "zz", body), ErrInvalidSignature)
	assert.NoError(t, VerifySignature("", "", body))
}

func TestStatusWebhookHandler(t *testing.T) {
	applier := &recordingApplier{}
	h := NewStatusWebhookHandler(applier, events.NewMemoryTracker(0), "s3cret", nil, nil)
	body := `{"id":"e1","instance":"ch-1","type":"connected","timestamp":1773154800}`

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/status", strings.NewReader(body))
		req.Header.Set(SignatureHeader, sig)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("bad"))
	assert.Equal(t, http.StatusOK, send(Sign("s3cret", []byte(body))))
	// replay is acknowledged without re-applying
	assert.Equal(t, http.StatusOK, send(Sign("s3cret", []byte(body))))
	require.Len(t, applier.events, 1)
	assert.Equal(t, channels.EventConnected, applier.events[0].Kind)
}

func TestStatusWebhookUnknownChannel(t *testing.T) {
	applier := &recordingApplier{err: channels.ErrChannelNotFound}
	h := NewStatusWebhookHandler(applier, nil, "", nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/status", strings.NewReader(`{"id":"e1","instance":"x","type":"connected"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusWebhookUnknownChannelIsRetriedOnRedelivery(t *testing.T) {
	applier := &recordingApplier{err: channels.ErrChannelNotFound}
	h := NewStatusWebhookHandler(applier, events.NewMemoryTracker(0), "", nil, nil)
	body := `{"id":"e7","instance":"ch-9","type":"connected","timestamp":1773154800}`

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp/status", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNotFound, send().Code)

	// the channel is registered before the provider redelivers
	applier.err = nil
	rec := send()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"applied":true}`, rec.Body.String())
	require.Len(t, applier.events, 2)
}
