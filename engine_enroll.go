package portalauth

import (
	"context"
	"errors"

	"github.com/veritaskey/portalauth/internal"
	"github.com/veritaskey/portalauth/internal/rate"
)

// BeginEnrollment starts (or resumes) device enrollment for userID. The
// returned secret and otpauth URI are shown to the user once; calling again
// before completion returns the same secret, so an already scanned QR code
// keeps working. Fails with ErrSetupConflict while an active device exists.
func (e *Engine) BeginEnrollment(ctx context.Context, userID, deviceName string) (*EnrollmentSetup, error) {
	if e == nil || e.devices == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrInvalidCredentials
	}
	if deviceName == "" {
		deviceName = "default"
	}

	secret, _, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	id, err := internal.NewID()
	if err != nil {
		return nil, err
	}

	record, err := e.devices.EnsurePending(ctx, userID, deviceName, id.String(), secret)
	if err != nil {
		mapped := mapDeviceStoreError(err)
		if errors.Is(mapped, ErrSetupConflict) {
			e.metricInc(MetricEnrollConflict)
		}
		e.emitAudit(ctx, AuditEnrollBegin, false, userID, "", "", mapped, nil)
		return nil, mapped
	}

	account := userID
	if email, err := e.identity.UserEmail(ctx, userID); err == nil && email != "" {
		account = email
	}

	existing := b32NoPad.EncodeToString(record.Secret)
	e.metricInc(MetricEnrollStarted)
	e.emitAudit(ctx, AuditEnrollBegin, true, userID, record.DeviceID, "", nil, nil)

	return &EnrollmentSetup{
		Secret: existing,
		URI:    e.totp.ProvisionURI(existing, account),
	}, nil
}

// CompleteEnrollment proves possession of the enrolled secret and activates
// the pending device. The code's matched time step becomes the device's
// replay high-water mark, so the activation code itself cannot be reused.
func (e *Engine) CompleteEnrollment(ctx context.Context, userID, code string) (*Device, error) {
	if e == nil || e.devices == nil || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	pending, err := e.devices.GetPending(ctx, userID)
	if err != nil {
		mapped := mapDeviceStoreError(err)
		e.emitAudit(ctx, AuditEnrollComplete, false, userID, "", "", mapped, nil)
		return nil, mapped
	}

	ok, step, err := e.totp.VerifyCode(pending.Secret, code, neverVerified, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricCodeRejected)
		e.emitAudit(ctx, AuditEnrollComplete, false, userID, pending.DeviceID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	record, err := e.devices.Activate(ctx, userID, pending.DeviceID, step)
	if err != nil {
		mapped := mapDeviceStoreError(err)
		e.emitAudit(ctx, AuditEnrollComplete, false, userID, pending.DeviceID, "", mapped, nil)
		return nil, mapped
	}

	e.metricInc(MetricEnrollCompleted)
	e.emitAudit(ctx, AuditEnrollComplete, true, userID, record.DeviceID, "", nil, nil)

	view := e.deviceView(record)
	return &view, nil
}

// VerifySecondFactor completes a 2FA_REQUIRED login. On an accepted code a
// full token pair is issued and the matched step is persisted so the same
// code is dead from then on. Wrong codes and replays are indistinguishable
// to the caller.
func (e *Engine) VerifySecondFactor(ctx context.Context, userID, code string) (*TokenPair, error) {
	if e == nil || e.devices == nil || e.totp == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	if e.rateLimiter != nil {
		if err := e.rateLimiter.IncrementCode(ctx, userID); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricCodeRateLimited)
				e.emitAudit(ctx, AuditSecondFactor, false, userID, "", "", ErrCodeRateLimited, nil)
				return nil, ErrCodeRateLimited
			}
			return nil, ErrRegistryUnavailable
		}
	}

	device, err := e.devices.GetActive(ctx, userID)
	if err != nil {
		mapped := mapDeviceStoreError(err)
		e.emitAudit(ctx, AuditSecondFactor, false, userID, "", "", mapped, nil)
		return nil, mapped
	}

	ok, step, err := e.totp.VerifyCode(device.Secret, code, device.LastStep, e.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricCodeRejected)
		e.emitAudit(ctx, AuditSecondFactor, false, userID, device.DeviceID, "", ErrInvalidCode, nil)
		return nil, ErrInvalidCode
	}

	if err := e.devices.RecordVerification(ctx, device.DeviceID, step); err != nil {
		if errors.Is(err, errCodeStepReplayed) {
			// lost the race against a concurrent use of the same code
			e.metricInc(MetricCodeReplayed)
			e.emitAudit(ctx, AuditSecondFactor, false, userID, device.DeviceID, "", ErrInvalidCode, func() map[string]string {
				return map[string]string{"reason": "replay"}
			})
			return nil, ErrInvalidCode
		}
		return nil, mapDeviceStoreError(err)
	}

	if e.rateLimiter != nil {
		_ = e.rateLimiter.ResetCode(ctx, userID)
	}

	tokens, err := e.issueTokens(userID)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricCodeAccepted)
	e.emitAudit(ctx, AuditSecondFactor, true, userID, device.DeviceID, "", nil, nil)
	return tokens, nil
}
