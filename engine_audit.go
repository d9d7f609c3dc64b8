package authcore

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// record appends ev to the audit log and, once durable, hands alerting
// events to the dispatcher. A write failure is returned joined with
// ErrInfrastructure and must fail the caller's operation.
func (e *Engine) record(ctx context.Context, ev SecurityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now().UTC()
	}
	if ev.IP == "" {
		ev.IP = ClientIPFromContext(ctx)
	}
	if ev.UserAgent == "" {
		ev.UserAgent = UserAgentFromContext(ctx)
	}

	if err := e.auditLog.Record(ctx, ev); err != nil {
		e.metricInc(MetricAuditWriteFailure)
		e.logger.Error("audit write failed",
			zap.String("action", string(ev.Action)),
			zap.String("user_id", ev.UserID),
			zap.Error(err),
		)
		return errors.Join(ErrInfrastructure, err)
	}

	if ev.Action.alerting() && e.alerts != nil {
		e.alerts.Send(ctx, internalaudit.Alert{
			EventID:   ev.ID,
			Action:    string(ev.Action),
			Timestamp: ev.Timestamp,
			UserID:    ev.UserID,
			SessionID: ev.SessionID,
			FamilyID:  ev.FamilyID,
			IP:        ev.IP,
			Reason:    ev.Reason,
			Metadata:  ev.Metadata,
		})
	}
	return nil
}

func (e *Engine) onAlertError(alert internalaudit.Alert, err error) {
	e.metricInc(MetricAlertDeliveryFailure)
	e.logger.Warn("security alert delivery failed",
		zap.String("event_id", alert.EventID),
		zap.String("action", alert.Action),
		zap.Error(err),
	)
}

// AlertsDropped reports alerts discarded because the dispatcher buffer was
// full.
func (e *Engine) AlertsDropped() uint64 {
	if e == nil || e.alerts == nil {
		return 0
	}
	return e.alerts.Dropped()
}
