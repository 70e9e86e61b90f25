package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/clinic"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// ClinicConfigStore retrieves clinic configuration.
type ClinicConfigStore interface {
	Get(ctx context.Context, clinicID string) (*clinic.Config, error)
}

// StaffNotifier e-mails clinic staff about alerts that need a human.
type StaffNotifier struct {
	email       EmailSender
	clinics     ClinicConfigStore
	clinicID    string
	minSeverity alerts.Severity
	logger      *logging.Logger
}

func NewStaffNotifier(email EmailSender, clinics ClinicConfigStore, clinicID string, logger *logging.Logger) *StaffNotifier {
	if email == nil || clinics == nil {
		panic("notify: email sender and clinic store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &StaffNotifier{
		email:       email,
		clinics:     clinics,
		clinicID:    clinicID,
		minSeverity: alerts.SeverityHigh,
		logger:      logger.Component("staff-notifier"),
	}
}

// WithMinSeverity changes the lowest severity that triggers an e-mail.
func (n *StaffNotifier) WithMinSeverity(s alerts.Severity) *StaffNotifier {
	n.minSeverity = s
	return n
}

// Run consumes sub until ctx is done or the subscription closes.
func (n *StaffNotifier) Run(ctx context.Context, sub *alerts.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-sub.C():
			if !ok {
				return
			}
			if err := n.Notify(ctx, a); err != nil {
				n.logger.Error("failed to notify staff", "alert_id", a.ID, "type", a.Type, "error", err)
			}
		}
	}
}

// Notify sends one e-mail addressed to every staff member. Resolved alerts
// and alerts below the minimum severity are ignored.
func (n *StaffNotifier) Notify(ctx context.Context, a alerts.Alert) error {
	if a.Resolved || !a.Severity.AtLeast(n.minSeverity) {
		return nil
	}
	cfg, err := n.clinics.Get(ctx, n.clinicID)
	if err != nil {
		return fmt.Errorf("notify: get clinic config: %w", err)
	}
	if len(cfg.StaffEmails) == 0 {
		n.logger.Debug("no staff e-mails configured, skipping", "alert_id", a.ID)
		return nil
	}

	err = n.email.Send(ctx, EmailMessage{
		To:      cfg.StaffEmails,
		Subject: subjectFor(cfg.Name, a),
		Text:    bodyFor(a, cfg.Location()),
	})
	if err != nil {
		return fmt.Errorf("notify: alert %s: %w", a.ID, err)
	}
	return nil
}

func subjectFor(clinicName string, a alerts.Alert) string {
	label := map[alerts.Severity]string{
		alerts.SeverityCritical: "CRÍTICO",
		alerts.SeverityHigh:     "URGENTE",
		alerts.SeverityWarning:  "Atenção",
		alerts.SeverityInfo:     "Info",
	}[a.Severity]
	return fmt.Sprintf("[%s] %s: %s", label, clinicName, strings.ReplaceAll(a.Type, "_", " "))
}

func bodyFor(a alerts.Alert, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(a.Message)
	b.WriteString("\n\n")
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Fields[k])
	}
	fmt.Fprintf(&b, "\nAlerta %s em %s\n", a.ID, a.CreatedAt.In(loc).Format("02/01/2006 15:04"))
	return b.String()
}
