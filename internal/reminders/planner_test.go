package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
)

func TestPlannerEnqueuesEachRuleOnce(t *testing.T) {
	h := newHarness(t)
	repo := appointments.NewInMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, appointments.Appointment{ID: "tomorrow", PatientName: "Ana", PatientPhone: "11987654321", ScheduledAt: testNow.Add(24*time.Hour + 20*time.Minute), Status: appointments.StatusScheduled}))
	require.NoError(t, repo.Save(ctx, appointments.Appointment{ID: "next-week", PatientName: "Bia", PatientPhone: "11987654322", ScheduledAt: testNow.Add(7 * 24 * time.Hour), Status: appointments.StatusScheduled}))
	require.NoError(t, repo.Save(ctx, appointments.Appointment{ID: "just-now", PatientName: "Caio", PatientPhone: "11987654323", ScheduledAt: testNow.Add(-90 * time.Minute), Status: appointments.StatusConfirmed}))
	require.NoError(t, repo.Save(ctx, appointments.Appointment{ID: "unconfirmed", PatientName: "Duda", PatientPhone: "11987654324", ScheduledAt: testNow.Add(-80 * time.Minute), Status: appointments.StatusScheduled}))

	p := NewPlanner(repo, h.d, DefaultRules(24*time.Hour, 2*time.Hour), nil).WithHorizon(time.Hour)

	report, err := p.Plan(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Skipped)

	jobs, err := h.store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	byAppt := map[string]Job{}
	for _, j := range jobs {
		byAppt[j.AppointmentID] = j
	}
	assert.Equal(t, RuleReminder24h, byAppt["tomorrow"].Rule)
	assert.Equal(t, testNow.Add(20*time.Minute), byAppt["tomorrow"].ScheduledFor)
	assert.Equal(t, RuleFollowup2h, byAppt["just-now"].Rule)
	assert.Equal(t, KindFollowup, byAppt["just-now"].Kind)
	assert.Equal(t, testNow.Add(30*time.Minute), byAppt["just-now"].ScheduledFor)

	report, err = p.Plan(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, report.Created)
}

func TestPlannerPurgesTerminalJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.addJob(t, Job{})
	_, err := h.store.ClaimByID(ctx, job.ID, testNow)
	require.NoError(t, err)
	require.NoError(t, h.store.MarkFailed(ctx, job.ID, 1, "x"))

	p := NewPlanner(appointments.NewInMemoryRepository(), h.d, nil, nil).WithRetention(24 * time.Hour)
	report, err := p.Plan(ctx, testNow.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Purged)

	_, err = h.store.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestEnqueueForUnknownRule(t *testing.T) {
	h := newHarness(t)
	p := NewPlanner(appointments.NewInMemoryRepository(), h.d, nil, nil)

	_, _, err := p.EnqueueFor(context.Background(), "x", "weekly")
	assert.ErrorIs(t, err, ErrUnknownRule)

	_, _, err = p.EnqueueFor(context.Background(), "missing", RuleReminder24h)
	assert.ErrorIs(t, err, appointments.ErrNotFound)
}
