// Package eligibility decides whether a post-attendance follow-up may be sent
// to a patient right now.
package eligibility

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
)

// Check names reported in Result.Checks.
const (
	StatusCheck = "statusCheck"
	DayCheck    = "dayCheck"
	WindowCheck = "windowCheck"
)

const (
	DefaultDelay  = 2 * time.Hour
	DefaultWindow = 30 * time.Minute
)

// Check is the outcome of one independent rule.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Result carries the verdict and every check, passing or not.
type Result struct {
	Eligible bool    `json:"eligible"`
	Checks   []Check `json:"checks"`
}

// Reasons returns "name: detail" for every check in evaluation order.
func (r Result) Reasons() []string {
	out := make([]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		out = append(out, c.Name+": "+c.Detail)
	}
	return out
}

// Failed reports whether the named check failed.
func (r Result) Failed(name string) bool {
	for _, c := range r.Checks {
		if c.Name == name {
			return !c.Passed
		}
	}
	return false
}

// FailedNames lists the checks that did not pass.
func (r Result) FailedNames() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

func (r Result) String() string {
	if r.Eligible {
		return "eligible"
	}
	return "denied: " + strings.Join(r.FailedNames(), ",")
}

// Gate evaluates follow-up eligibility. It holds no state between calls and
// must be evaluated against the current wall clock at dispatch time.
type Gate struct {
	Location *time.Location
	Delay    time.Duration
	Window   time.Duration
}

// NewGate returns a gate for the clinic's location. Zero durations fall back to
// a two hour delay with a thirty minute window.
func NewGate(loc *time.Location, delay, window time.Duration) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	if delay <= 0 {
		delay = DefaultDelay
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{Location: loc, Delay: delay, Window: window}
}

// Evaluate runs all checks; the appointment is eligible only if every check passes.
func (g *Gate) Evaluate(appt appointments.Appointment, now time.Time) Result {
	checks := []Check{
		g.statusCheck(appt),
		g.dayCheck(appt, now),
		g.windowCheck(appt, now),
	}
	eligible := true
	for _, c := range checks {
		eligible = eligible && c.Passed
	}
	return Result{Eligible: eligible, Checks: checks}
}

// Target is the moment the follow-up is aimed at.
func (g *Gate) Target(appt appointments.Appointment) time.Time {
	return appt.ScheduledAt.Add(g.Delay)
}

// TooEarly reports whether the window has not opened yet.
func (g *Gate) TooEarly(appt appointments.Appointment, now time.Time) bool {
	return now.Before(g.Target(appt).Add(-g.Window))
}

// WindowPassed reports whether the window has closed for good.
func (g *Gate) WindowPassed(appt appointments.Appointment, now time.Time) bool {
	return now.After(g.Target(appt).Add(g.Window))
}

func (g *Gate) statusCheck(appt appointments.Appointment) Check {
	if appt.Status == appointments.StatusConfirmed {
		return Check{Name: StatusCheck, Passed: true, Detail: "appointment confirmed"}
	}
	return Check{Name: StatusCheck, Detail: fmt.Sprintf("status is %q, want %q", appt.Status, appointments.StatusConfirmed)}
}

func (g *Gate) dayCheck(appt appointments.Appointment, now time.Time) Check {
	ay, am, ad := appt.ScheduledAt.In(g.Location).Date()
	ny, nm, nd := now.In(g.Location).Date()
	if ay == ny && am == nm && ad == nd {
		return Check{Name: DayCheck, Passed: true, Detail: "appointment is today"}
	}
	return Check{
		Name:   DayCheck,
		Detail: fmt.Sprintf("appointment on %04d-%02d-%02d, today is %04d-%02d-%02d", ay, am, ad, ny, nm, nd),
	}
}

func (g *Gate) windowCheck(appt appointments.Appointment, now time.Time) Check {
	target := g.Target(appt)
	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	if diff <= g.Window {
		return Check{Name: WindowCheck, Passed: true, Detail: fmt.Sprintf("within %s of %s", g.Window, target.In(g.Location).Format("15:04"))}
	}
	return Check{
		Name:   WindowCheck,
		Detail: fmt.Sprintf("%s away from %s, allowed %s", diff.Round(time.Minute), target.In(g.Location).Format("15:04"), g.Window),
	}
}
