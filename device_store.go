package portalauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	deviceKeyPrefix        = "td"
	deviceActiveKeyPrefix  = "tda"
	devicePendingKeyPrefix = "tdp"
	deviceRecordVersion1   = 1

	// neverVerified marks a device that has not accepted any code yet.
	neverVerified int64 = -1
)

var (
	errDeviceNotFound   = errors.New("totp device not found")
	errDeviceForbidden  = errors.New("totp device owned by another user")
	errNoPendingDevice  = errors.New("no pending totp device")
	errNoActiveDevice   = errors.New("no active totp device")
	errActiveDeviceSet  = errors.New("active totp device already exists")
	errCodeStepReplayed = errors.New("totp step already consumed")
	errDeviceBackend    = errors.New("device registry backend unavailable")
)

type totpDeviceRecord struct {
	DeviceID   string
	UserID     string
	Name       string
	Secret     []byte
	Confirmed  bool
	LastStep   int64
	CreatedAt  int64
	LastUsedAt int64
}

// deviceStore keeps one record per device plus two per-user marker keys:
// the active device ID and the pending (unconfirmed) device ID. Every
// transition watches the markers, so at most one device per user can win
// a concurrent activation.
type deviceStore struct {
	redis *redis.Client
	now   func() time.Time
}

func newDeviceStore(redisClient *redis.Client, now func() time.Time) *deviceStore {
	return &deviceStore{redis: redisClient, now: now}
}

func (s *deviceStore) key(deviceID string) string {
	return deviceKeyPrefix + ":" + deviceID
}

func (s *deviceStore) activeKey(userID string) string {
	return deviceActiveKeyPrefix + ":" + userID
}

func (s *deviceStore) pendingKey(userID string) string {
	return devicePendingKeyPrefix + ":" + userID
}

// GetActive returns the confirmed device for userID, or errNoActiveDevice.
func (s *deviceStore) GetActive(ctx context.Context, userID string) (*totpDeviceRecord, error) {
	deviceID, err := readString(ctx, s.redis, s.activeKey(userID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errNoActiveDevice
		}
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	record, err := s.get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, errDeviceNotFound) {
			return nil, errNoActiveDevice
		}
		return nil, err
	}
	return record, nil
}

// GetPending returns the unconfirmed device for userID, or errNoPendingDevice.
func (s *deviceStore) GetPending(ctx context.Context, userID string) (*totpDeviceRecord, error) {
	deviceID, err := readString(ctx, s.redis, s.pendingKey(userID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errNoPendingDevice
		}
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	record, err := s.get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, errDeviceNotFound) {
			return nil, errNoPendingDevice
		}
		return nil, err
	}
	return record, nil
}

func (s *deviceStore) get(ctx context.Context, deviceID string) (*totpDeviceRecord, error) {
	data, err := readBytes(ctx, s.redis, s.key(deviceID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errDeviceNotFound
		}
		return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
	}
	return decodeTOTPDevice(data)
}

// EnsurePending returns the user's pending device, creating one from newID
// and secret when none exists. An existing pending enrollment keeps its
// secret so a QR code scanned earlier stays valid. Fails with
// errActiveDeviceSet when the user already has a confirmed device.
func (s *deviceStore) EnsurePending(
	ctx context.Context,
	userID, name, newID string,
	secret []byte,
) (*totpDeviceRecord, error) {
	const maxRetries = 4
	activeKey := s.activeKey(userID)
	pendingKey := s.pendingKey(userID)

	for i := 0; i < maxRetries; i++ {
		var result *totpDeviceRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			if _, err := tx.Get(ctx, activeKey).Result(); err == nil {
				return errActiveDeviceSet
			} else if !errors.Is(err, redis.Nil) {
				return err
			}

			pendingID, err := tx.Get(ctx, pendingKey).Result()
			if err == nil {
				data, err := tx.Get(ctx, s.key(pendingID)).Bytes()
				if err == nil {
					record, err := decodeTOTPDevice(data)
					if err != nil {
						return err
					}
					result = record
					return nil
				}
				if !errors.Is(err, redis.Nil) {
					return err
				}
				// stale marker, fall through and recreate
			} else if !errors.Is(err, redis.Nil) {
				return err
			}

			record := &totpDeviceRecord{
				DeviceID:   newID,
				UserID:     userID,
				Name:       name,
				Secret:     secret,
				Confirmed:  false,
				LastStep:   neverVerified,
				CreatedAt:  s.now().Unix(),
				LastUsedAt: 0,
			}
			encoded, err := encodeTOTPDevice(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.key(newID), encoded, 0)
				pipe.Set(ctx, pendingKey, newID, 0)
				return nil
			})
			if err != nil {
				return err
			}
			result = record
			return nil
		}, activeKey, pendingKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errActiveDeviceSet) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: transaction retries exhausted", errDeviceBackend)
}

// Activate confirms the pending device after a successful code check,
// recording step as its high-water mark. Exactly one concurrent caller per
// user can succeed; losers observe the new active marker and fail.
func (s *deviceStore) Activate(ctx context.Context, userID, deviceID string, step int64) (*totpDeviceRecord, error) {
	const maxRetries = 4
	activeKey := s.activeKey(userID)
	pendingKey := s.pendingKey(userID)
	recordKey := s.key(deviceID)

	for i := 0; i < maxRetries; i++ {
		var result *totpDeviceRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			if _, err := tx.Get(ctx, activeKey).Result(); err == nil {
				return errActiveDeviceSet
			} else if !errors.Is(err, redis.Nil) {
				return err
			}

			pendingID, err := tx.Get(ctx, pendingKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errNoPendingDevice
				}
				return err
			}
			if pendingID != deviceID {
				return errNoPendingDevice
			}

			data, err := tx.Get(ctx, recordKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errNoPendingDevice
				}
				return err
			}
			record, err := decodeTOTPDevice(data)
			if err != nil {
				return err
			}

			now := s.now().Unix()
			record.Confirmed = true
			record.LastStep = step
			record.LastUsedAt = now
			encoded, err := encodeTOTPDevice(record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recordKey, encoded, 0)
				pipe.Set(ctx, activeKey, deviceID, 0)
				pipe.Del(ctx, pendingKey)
				return nil
			})
			if err != nil {
				return err
			}
			result = record
			return nil
		}, activeKey, pendingKey, recordKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errActiveDeviceSet) || errors.Is(err, errNoPendingDevice) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errDeviceBackend, err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: transaction retries exhausted", errDeviceBackend)
}

// RecordVerification advances the device's accepted-step high-water mark.
// The compare-and-swap on step rejects a concurrent second use of the same
// code even when both callers passed the in-memory check.
func (s *deviceStore) RecordVerification(ctx context.Context, deviceID string, step int64) error {
	const maxRetries = 4
	recordKey := s.key(deviceID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, recordKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errDeviceNotFound
				}
				return err
			}
			record, err := decodeTOTPDevice(data)
			if err != nil {
				return err
			}
			if step <= record.LastStep {
				return errCodeStepReplayed
			}

			record.LastStep = step
			record.LastUsedAt = s.now().Unix()
			encoded, err := encodeTOTPDevice(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, recordKey, encoded, 0)
				return nil
			})
			return err
		}, recordKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errDeviceNotFound) || errors.Is(err, errCodeStepReplayed) {
				return err
			}
			return fmt.Errorf("%w: %v", errDeviceBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", errDeviceBackend)
}

// List returns the user's devices, active first. With the single-device
// invariant this is at most one confirmed and one pending record.
func (s *deviceStore) List(ctx context.Context, userID string) ([]*totpDeviceRecord, error) {
	var records []*totpDeviceRecord

	active, err := s.GetActive(ctx, userID)
	if err == nil {
		records = append(records, active)
	} else if !errors.Is(err, errNoActiveDevice) {
		return nil, err
	}

	pending, err := s.GetPending(ctx, userID)
	if err == nil {
		records = append(records, pending)
	} else if !errors.Is(err, errNoPendingDevice) {
		return nil, err
	}

	return records, nil
}

// Revoke deletes a device owned by userID and clears whichever marker
// pointed at it. Ownership by another user is reported as forbidden, not
// as not-found, so the engine can distinguish the two at its boundary.
func (s *deviceStore) Revoke(ctx context.Context, userID, deviceID string) error {
	const maxRetries = 4
	activeKey := s.activeKey(userID)
	pendingKey := s.pendingKey(userID)
	recordKey := s.key(deviceID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, recordKey).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errDeviceNotFound
				}
				return err
			}
			record, err := decodeTOTPDevice(data)
			if err != nil {
				return err
			}
			if record.UserID != userID {
				return errDeviceForbidden
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, recordKey)
				if record.Confirmed {
					pipe.Del(ctx, activeKey)
				} else {
					pipe.Del(ctx, pendingKey)
				}
				return nil
			})
			return err
		}, activeKey, pendingKey, recordKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errDeviceNotFound) || errors.Is(err, errDeviceForbidden) {
				return err
			}
			return fmt.Errorf("%w: %v", errDeviceBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", errDeviceBackend)
}

func encodeTOTPDevice(record *totpDeviceRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(deviceRecordVersion1)

	var confirmed uint8
	if record.Confirmed {
		confirmed = 1
	}
	buf.WriteByte(confirmed)

	if err := binary.Write(&buf, binary.BigEndian, record.LastStep); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.LastUsedAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.DeviceID, record.UserID, record.Name} {
		if len(field) > 65535 {
			return nil, errors.New("device field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	if len(record.Secret) > 65535 {
		return nil, errors.New("device secret length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Secret))); err != nil {
		return nil, err
	}
	buf.Write(record.Secret)

	return buf.Bytes(), nil
}

func decodeTOTPDevice(data []byte) (*totpDeviceRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != deviceRecordVersion1 {
		return nil, errors.New("invalid device record version")
	}

	confirmed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &totpDeviceRecord{Confirmed: confirmed == 1}
	if err := binary.Read(reader, binary.BigEndian, &record.LastStep); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.LastUsedAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.DeviceID, &record.UserID, &record.Name} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*dst = string(raw)
	}

	var secretLen uint16
	if err := binary.Read(reader, binary.BigEndian, &secretLen); err != nil {
		return nil, err
	}
	secret := make([]byte, secretLen)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, err
	}
	record.Secret = secret

	return record, nil
}
