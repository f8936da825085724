package portalauth

import (
	"context"
	"errors"
	"time"

	"github.com/veritaskey/portalauth/internal/rate"
	"github.com/veritaskey/portalauth/jwt"
)

// Engine is the authentication core. Build one through [Builder.Build];
// the zero value is not usable. All methods are safe for concurrent use.
type Engine struct {
	config      Config
	identity    IdentityProvider
	revoker     RefreshRevoker
	devices     *deviceStore
	pushes      *pushStore
	rateLimiter *rate.Limiter
	audit       *auditDispatcher
	metrics     *Metrics
	totp        *totpManager
	jwtManager  *jwt.Manager
	now         func() time.Time
}

// Close flushes and stops the audit dispatcher. The engine must not be
// used after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	deviceID string,
	requestID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		DeviceID:  deviceID,
		RequestID: requestID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if err != nil {
		event.Error = err.Error()
	}

	e.audit.Emit(ctx, event)
}

// mapDeviceStoreError folds the registry's unexported errors into the
// public sentinels at the engine boundary.
func mapDeviceStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errDeviceNotFound):
		return ErrNotFound
	case errors.Is(err, errDeviceForbidden):
		return ErrForbidden
	case errors.Is(err, errNoPendingDevice):
		return ErrNoPendingDevice
	case errors.Is(err, errNoActiveDevice):
		return ErrNoActiveDevice
	case errors.Is(err, errActiveDeviceSet):
		return ErrSetupConflict
	case errors.Is(err, errCodeStepReplayed):
		return ErrInvalidCode
	default:
		return ErrRegistryUnavailable
	}
}

func mapPushStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errPushNotFound):
		return ErrNotFound
	case errors.Is(err, errPushResolved):
		return ErrAlreadyResolved
	case errors.Is(err, errPushExpired):
		return ErrPushExpired
	default:
		return ErrPushUnavailable
	}
}

func (e *Engine) deviceView(record *totpDeviceRecord) Device {
	d := Device{
		ID:        record.DeviceID,
		Name:      record.Name,
		Active:    record.Confirmed,
		CreatedAt: time.Unix(record.CreatedAt, 0).UTC(),
	}
	if record.LastUsedAt > 0 {
		d.LastUsedAt = time.Unix(record.LastUsedAt, 0).UTC()
	}
	return d
}

func (e *Engine) pushView(record *pushRecord) PushRequest {
	return PushRequest{
		RequestID:   record.RequestID,
		Status:      record.Status,
		OriginIP:    record.OriginIP,
		OriginAgent: record.OriginAgent,
		CreatedAt:   time.Unix(record.CreatedAt, 0).UTC(),
		UpdatedAt:   time.Unix(record.UpdatedAt, 0).UTC(),
	}
}
