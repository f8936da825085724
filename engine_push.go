package portalauth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// InitiatePush creates a PENDING approval request for a login awaiting a
// decision from one of the user's trusted sessions. The origin IP and
// user agent from ctx are stored so the approving device can show where
// the login attempt came from. Earlier pending requests are superseded,
// not deleted; polls only ever surface the newest one.
func (e *Engine) InitiatePush(ctx context.Context, userID string) (*PushRequest, error) {
	if e == nil || e.pushes == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now().Unix()
	record := &pushRecord{
		RequestID:   uuid.NewString(),
		UserID:      userID,
		Status:      PushPending,
		OriginIP:    clientIPFromContext(ctx),
		OriginAgent: userAgentFromContext(ctx),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := e.pushes.Create(ctx, record); err != nil {
		return nil, mapPushStoreError(err)
	}

	e.metricInc(MetricPushCreated)
	e.emitAudit(ctx, AuditPushInitiate, true, userID, "", record.RequestID, nil, nil)

	view := e.pushView(record)
	return &view, nil
}

// PendingPush returns the user's newest answerable request, or nil when
// nothing is waiting. Trusted sessions poll this to know when to show an
// approval prompt.
func (e *Engine) PendingPush(ctx context.Context, userID string) (*PushRequest, error) {
	if e == nil || e.pushes == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.pushes.LatestPending(ctx, userID)
	if err != nil {
		if errors.Is(err, errPushNotFound) {
			return nil, nil
		}
		return nil, mapPushStoreError(err)
	}

	view := e.pushView(record)
	return &view, nil
}

// RespondPush records an approval or denial from one of the user's trusted
// sessions. The transition is single-shot: whichever decision lands first
// wins, and every later response fails with ErrAlreadyResolved regardless
// of whether it agreed with the winner. A decision arriving after the
// approval window gets ErrPushExpired and the request stays expired.
func (e *Engine) RespondPush(ctx context.Context, userID, requestID string, decision PushDecision) error {
	if e == nil || e.pushes == nil {
		return ErrEngineNotReady
	}

	record, err := e.pushes.Get(ctx, requestID)
	if err != nil {
		return mapPushStoreError(err)
	}
	// foreign requests are indistinguishable from missing ones
	if record.UserID != userID {
		return ErrNotFound
	}

	status := PushDenied
	if decision == DecisionApprove {
		status = PushApproved
	}

	if err := e.pushes.Resolve(ctx, requestID, status); err != nil {
		mapped := mapPushStoreError(err)
		switch {
		case errors.Is(mapped, ErrAlreadyResolved):
			e.metricInc(MetricPushConflict)
		case errors.Is(mapped, ErrPushExpired):
			e.metricInc(MetricPushExpired)
		}
		e.emitAudit(ctx, AuditPushRespond, false, userID, "", requestID, mapped, nil)
		return mapped
	}

	if status == PushApproved {
		e.metricInc(MetricPushApproved)
	} else {
		e.metricInc(MetricPushDenied)
	}
	e.emitAudit(ctx, AuditPushRespond, true, userID, "", requestID, nil, func() map[string]string {
		return map[string]string{"status": status.String()}
	})
	return nil
}

// CheckPushStatus reports the request's state to the login that created
// it. The first poll after approval consumes the request and carries a
// fresh token pair; later polls still say APPROVED but without tokens, so
// a pair is never minted twice for one approval. A request pending past
// its window flips to EXPIRED here.
func (e *Engine) CheckPushStatus(ctx context.Context, userID, requestID string) (*PushStatusResult, error) {
	if e == nil || e.pushes == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.pushes.Get(ctx, requestID)
	if err != nil {
		return nil, mapPushStoreError(err)
	}
	if record.UserID != userID {
		return nil, ErrNotFound
	}
	if record.Status != PushApproved || record.Consumed {
		return &PushStatusResult{Status: record.Status}, nil
	}

	// Mint before flipping the consumed flag. A signing failure here
	// leaves the approval intact, so the next poll can still collect.
	tokens, err := e.issueTokens(userID)
	if err != nil {
		return nil, err
	}

	record, consumedNow, err := e.pushes.Consume(ctx, requestID, userID)
	if err != nil {
		return nil, mapPushStoreError(err)
	}

	result := &PushStatusResult{Status: record.Status}
	if consumedNow {
		result.Tokens = tokens
		e.metricInc(MetricPushConsumed)
		e.emitAudit(ctx, AuditPushCheck, true, userID, "", requestID, nil, func() map[string]string {
			return map[string]string{"status": record.Status.String(), "tokens_issued": "true"}
		})
	}
	return result, nil
}
