package portalauth

import (
	"context"
)

// ListDevices returns the caller's devices, active first. The single
// active device invariant means the list holds at most one confirmed and
// one pending entry.
func (e *Engine) ListDevices(ctx context.Context, userID string) ([]Device, error) {
	if e == nil || e.devices == nil {
		return nil, ErrEngineNotReady
	}

	records, err := e.devices.List(ctx, userID)
	if err != nil {
		return nil, mapDeviceStoreError(err)
	}

	devices := make([]Device, 0, len(records))
	for _, record := range records {
		devices = append(devices, e.deviceView(record))
	}
	return devices, nil
}

// RevokeDevice deletes a device the caller owns. Revoking the active
// device drops the account back to the SETUP_REQUIRED login outcome.
// Devices owned by other users fail with ErrForbidden.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	if e == nil || e.devices == nil {
		return ErrEngineNotReady
	}

	if err := e.devices.Revoke(ctx, userID, deviceID); err != nil {
		mapped := mapDeviceStoreError(err)
		e.emitAudit(ctx, AuditDeviceRevoke, false, userID, deviceID, "", mapped, nil)
		return mapped
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, AuditDeviceRevoke, true, userID, deviceID, "", nil, nil)
	return nil
}

// SyncDevice hands the active device's shared secret to a trusted
// companion app so it can generate codes for the same account. Callers
// must gate this behind a fully authenticated, trusted-channel session.
func (e *Engine) SyncDevice(ctx context.Context, userID string) (*DeviceSync, error) {
	if e == nil || e.devices == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.devices.GetActive(ctx, userID)
	if err != nil {
		mapped := mapDeviceStoreError(err)
		e.emitAudit(ctx, AuditDeviceSync, false, userID, "", "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricDeviceSynced)
	e.emitAudit(ctx, AuditDeviceSync, true, userID, record.DeviceID, "", nil, nil)

	return &DeviceSync{
		Secret: b32NoPad.EncodeToString(record.Secret),
		Name:   record.Name,
	}, nil
}
