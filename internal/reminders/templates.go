package reminders

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/appointments"
)

// Renderer builds message content from rule templates in the clinic's zone.
type Renderer struct {
	ClinicName string
	Location   *time.Location
}

// Render executes tmpl with strict missing-key semantics.
func (r Renderer) Render(name, tmpl string, appt appointments.Appointment) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("reminders: template %s is empty", name)
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("reminders: parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.data(appt)); err != nil {
		return "", fmt.Errorf("reminders: execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r Renderer) data(appt appointments.Appointment) map[string]any {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := appt.ScheduledAt.In(loc)
	return map[string]any{
		"PatientName": appt.PatientName,
		"FirstName":   firstName(appt.PatientName),
		"ClinicName":  r.ClinicName,
		"Date":        local.Format("02/01/2006"),
		"Time":        local.Format("15:04"),
		"Procedure":   appt.Procedure,
	}
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
