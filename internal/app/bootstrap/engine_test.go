package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	appconfig "github.com/wolfman30/dental-crm-messaging/internal/config"
	"github.com/wolfman30/dental-crm-messaging/internal/inbound"
	"github.com/wolfman30/dental-crm-messaging/internal/reminders"
)

func localConfig(t *testing.T) *appconfig.Config {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_ADDR", "AMQP_URL", "MEDIA_BUCKET", "CHANNEL_EVENTS_QUEUE_URL", "SES_FROM_EMAIL", "WHATSAPP_BASE_URL", "SENDGRID_API_KEY"} {
		t.Setenv(key, "")
	}
	cfg := appconfig.Load()
	cfg.ClinicID = "sp-centro"
	cfg.ClinicName = "Sorriso Centro"
	cfg.StaffEmails = []string{"recepcao@sorriso.com.br"}
	return cfg
}

func newEngine(t *testing.T) (*Engine, *appointments.InMemoryRepository) {
	t.Helper()
	stores := MemoryStores()
	e, err := BuildEngine(context.Background(), localConfig(t), stores, prometheus.NewRegistry(), nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	appts, ok := stores.Appointments.(*appointments.InMemoryRepository)
	require.True(t, ok)
	return e, appts
}

func TestBuildEngineWithoutIntegrations(t *testing.T) {
	e, _ := newEngine(t)

	assert.Nil(t, e.Consumer)
	assert.NotNil(t, e.Worker)
	assert.NotNil(t, e.Inbound)
	assert.NotNil(t, e.Metrics)
	assert.Equal(t, "sp-centro", e.Clinic.ClinicID)
	assert.Equal(t, "Sorriso Centro", e.Clinic.Name)
	assert.Equal(t, []string{"recepcao@sorriso.com.br"}, e.Clinic.StaffEmails)
	assert.False(t, e.Stores.Persistent)
}

func TestBuildEngineRejectsBadClinicSettings(t *testing.T) {
	cfg := localConfig(t)
	cfg.ClinicTimezone = "Mars/Olympus_Mons"
	_, err := BuildEngine(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestEngineDispatchesThroughStubSender(t *testing.T) {
	e, appts := newEngine(t)
	ctx := context.Background()

	ch, err := e.Registry.Register(ctx, channels.Channel{ID: "sp-1", Country: "BR", DisplayName: "Recepção", DailyLimit: 10})
	require.NoError(t, err)
	require.NoError(t, e.Registry.MarkStatus(ctx, ch.ID, channels.StatusActive))

	appt := appointments.Appointment{
		ID:           "appt-9",
		PatientName:  "Marina Costa",
		PatientPhone: "5511987654321",
		ScheduledAt:  time.Now().Add(3 * time.Hour),
		Status:       appointments.StatusScheduled,
	}
	require.NoError(t, appts.Save(ctx, appt))

	rule, ok := e.Planner.Rule(reminders.RuleReminder24h)
	require.True(t, ok)
	_, created, err := e.Dispatcher.Enqueue(ctx, appt, rule)
	require.NoError(t, err)
	require.True(t, created)

	report, err := e.Dispatcher.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Claimed)
	assert.Equal(t, 1, report.Sent)

	used, err := e.Registry.Get(ctx, "sp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, used.DailyMessageCount)
}

func TestEngineRescheduleReplyRaisesAlert(t *testing.T) {
	e, appts := newEngine(t)
	ctx := context.Background()
	require.NoError(t, appts.Save(ctx, appointments.Appointment{
		ID:           "appt-3",
		PatientName:  "Rafael Lima",
		PatientPhone: "5511912345678",
		ScheduledAt:  time.Now().Add(26 * time.Hour),
		Status:       appointments.StatusScheduled,
	}))

	res, err := e.Inbound.Handle(ctx, inbound.Payload{SenderPhone: "11 91234-5678", Message: "Preciso remarcar, pode ser outro dia?"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.NotificationSent)
	assert.Equal(t, "appt-3", res.AppointmentID)

	active := e.Alerts.Active()
	require.Len(t, active, 1)
	assert.Equal(t, alerts.TypeRescheduleRequest, active[0].Type)
}

func TestEngineStartStopsOnCancel(t *testing.T) {
	e, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	wait := e.Start(ctx, AllLoops)
	cancel()

	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loops did not stop")
	}
}

func TestClinicSeedFromEnvironment(t *testing.T) {
	cfg := localConfig(t)
	cfg.DefaultCountry = "AR"
	cfg.DefaultCountryCode = "54"
	cfg.DefaultAreaCode = "11"
	cfg.ClinicTimezone = "America/Argentina/Buenos_Aires"

	seed := clinicSeed(cfg)
	require.NoError(t, seed.Validate())
	assert.Equal(t, "AR", seed.Country)
	assert.Equal(t, "54", seed.CountryCode)
	assert.Equal(t, "Sorriso Centro", seed.Name)
}
