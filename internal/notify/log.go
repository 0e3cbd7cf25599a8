package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/hackgods/hospital-appointment-scheduling/internal/appointment"
)

// LogNotifier writes events to the log. It is used when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, ev appointment.Event) error {
	n.log.Info("appointment event",
		zap.String("event", ev.Type),
		zap.String("appointment_id", ev.AppointmentID.String()),
		zap.String("clinical_status", string(ev.ClinicalStatus)),
		zap.String("payment_status", string(ev.PaymentStatus)),
	)
	return nil
}
