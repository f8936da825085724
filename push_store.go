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
	pushKeyPrefix      = "pr"
	pushIndexKeyPrefix = "pru"
	pushRecordVersion1 = 1
)

var (
	errPushNotFound = errors.New("push request not found")
	errPushResolved = errors.New("push request already resolved")
	errPushExpired  = errors.New("push request expired")
	errPushBackend  = errors.New("push store backend unavailable")
)

type pushRecord struct {
	RequestID   string
	UserID      string
	Status      PushStatus
	Consumed    bool
	OriginIP    string
	OriginAgent string
	CreatedAt   int64
	UpdatedAt   int64
}

// pushStore keeps one record per approval request plus a per-user index
// sorted by creation time, so the newest pending request is one range read
// away. Expiry is decided lazily from the record's age; nothing sweeps.
type pushStore struct {
	redis     *redis.Client
	now       func() time.Time
	window    time.Duration
	retention time.Duration
	scanLimit int64
}

func newPushStore(redisClient *redis.Client, now func() time.Time, cfg PushConfig) *pushStore {
	return &pushStore{
		redis:     redisClient,
		now:       now,
		window:    cfg.ApprovalWindow,
		retention: cfg.Retention,
		scanLimit: int64(cfg.PendingScanLimit),
	}
}

func (s *pushStore) key(requestID string) string {
	return pushKeyPrefix + ":" + requestID
}

func (s *pushStore) indexKey(userID string) string {
	return pushIndexKeyPrefix + ":" + userID
}

func (s *pushStore) expired(record *pushRecord) bool {
	return s.now().Unix() > record.CreatedAt+int64(s.window/time.Second)
}

// Create stores a new PENDING record and indexes it under its user. Older
// requests stay in place; the index order makes them invisible to polls.
func (s *pushStore) Create(ctx context.Context, record *pushRecord) error {
	encoded, err := encodePushRecord(record)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.RequestID), encoded, s.retention)
		pipe.ZAdd(ctx, s.indexKey(record.UserID), redis.Z{
			Score:  float64(record.CreatedAt),
			Member: record.RequestID,
		})
		pipe.Expire(ctx, s.indexKey(record.UserID), s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errPushBackend, err)
	}
	return nil
}

// Get returns the record regardless of state, expiring it lazily first.
func (s *pushStore) Get(ctx context.Context, requestID string) (*pushRecord, error) {
	record, err := s.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if record.Status == PushPending && s.expired(record) {
		return s.markExpired(ctx, requestID)
	}
	return record, nil
}

func (s *pushStore) load(ctx context.Context, requestID string) (*pushRecord, error) {
	data, err := readBytes(ctx, s.redis, s.key(requestID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPushNotFound
		}
		return nil, fmt.Errorf("%w: %v", errPushBackend, err)
	}
	return decodePushRecord(data)
}

// LatestPending returns the user's newest live PENDING request, or
// errPushNotFound when every recent request is resolved or aged out.
func (s *pushStore) LatestPending(ctx context.Context, userID string) (*pushRecord, error) {
	ids, err := readNewest(ctx, s.redis, s.indexKey(userID), s.scanLimit-1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPushBackend, err)
	}
	for _, id := range ids {
		record, err := s.load(ctx, id)
		if err != nil {
			if errors.Is(err, errPushNotFound) {
				continue
			}
			return nil, err
		}
		if record.Status != PushPending {
			continue
		}
		if s.expired(record) {
			// index is newest-first, anything older is expired too
			return nil, errPushNotFound
		}
		return record, nil
	}
	return nil, errPushNotFound
}

// Resolve moves a PENDING record to APPROVED or DENIED. The transition is
// single-shot: a record in any terminal state fails with errPushResolved,
// and a stale decision arriving after the window writes EXPIRED instead.
func (s *pushStore) Resolve(ctx context.Context, requestID string, status PushStatus) error {
	const maxRetries = 4
	key := s.key(requestID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errPushNotFound
				}
				return err
			}
			record, err := decodePushRecord(data)
			if err != nil {
				return err
			}
			if record.Status != PushPending {
				return errPushResolved
			}
			if s.expired(record) {
				record.Status = PushExpired
				record.UpdatedAt = s.now().Unix()
				encoded, err := encodePushRecord(record)
				if err != nil {
					return err
				}
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, redis.KeepTTL)
					return nil
				}); err != nil {
					return err
				}
				return errPushExpired
			}

			record.Status = status
			record.UpdatedAt = s.now().Unix()
			encoded, err := encodePushRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errPushNotFound) ||
				errors.Is(err, errPushResolved) ||
				errors.Is(err, errPushExpired) {
				return err
			}
			return fmt.Errorf("%w: %v", errPushBackend, err)
		}
		return nil
	}

	return fmt.Errorf("%w: transaction retries exhausted", errPushBackend)
}

// Consume reads the record for a status poll. For an APPROVED record the
// first call flips the consumed flag and reports consumedNow=true; every
// later call sees the flag set, so tokens are minted exactly once. A
// record owned by a different user reads as missing and is left untouched.
func (s *pushStore) Consume(ctx context.Context, requestID, userID string) (*pushRecord, bool, error) {
	const maxRetries = 4
	key := s.key(requestID)

	for i := 0; i < maxRetries; i++ {
		var (
			result      *pushRecord
			consumedNow bool
		)
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errPushNotFound
				}
				return err
			}
			record, err := decodePushRecord(data)
			if err != nil {
				return err
			}
			if record.UserID != userID {
				return errPushNotFound
			}

			switch {
			case record.Status == PushPending && s.expired(record):
				record.Status = PushExpired
				record.UpdatedAt = s.now().Unix()
			case record.Status == PushApproved && !record.Consumed:
				record.Consumed = true
				record.UpdatedAt = s.now().Unix()
				consumedNow = true
			default:
				result = record
				return nil
			}

			encoded, err := encodePushRecord(record)
			if err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
				return nil
			}); err != nil {
				return err
			}
			result = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			consumedNow = false
			continue
		}
		if err != nil {
			if errors.Is(err, errPushNotFound) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("%w: %v", errPushBackend, err)
		}
		return result, consumedNow, nil
	}

	return nil, false, fmt.Errorf("%w: transaction retries exhausted", errPushBackend)
}

func (s *pushStore) markExpired(ctx context.Context, requestID string) (*pushRecord, error) {
	const maxRetries = 4
	key := s.key(requestID)

	for i := 0; i < maxRetries; i++ {
		var result *pushRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return errPushNotFound
				}
				return err
			}
			record, err := decodePushRecord(data)
			if err != nil {
				return err
			}
			if record.Status != PushPending {
				result = record
				return nil
			}

			record.Status = PushExpired
			record.UpdatedAt = s.now().Unix()
			encoded, err := encodePushRecord(record)
			if err != nil {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
				return nil
			}); err != nil {
				return err
			}
			result = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, errPushNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errPushBackend, err)
		}
		return result, nil
	}

	return nil, fmt.Errorf("%w: transaction retries exhausted", errPushBackend)
}

func encodePushRecord(record *pushRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pushRecordVersion1)
	buf.WriteByte(byte(record.Status))

	var consumed uint8
	if record.Consumed {
		consumed = 1
	}
	buf.WriteByte(consumed)

	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.UpdatedAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.RequestID, record.UserID, record.OriginIP, record.OriginAgent} {
		if len(field) > 65535 {
			return nil, errors.New("push field length exceeded")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodePushRecord(data []byte) (*pushRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pushRecordVersion1 {
		return nil, errors.New("invalid push record version")
	}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	consumed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &pushRecord{Status: PushStatus(status), Consumed: consumed == 1}
	if err := binary.Read(reader, binary.BigEndian, &record.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.UpdatedAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&record.RequestID, &record.UserID, &record.OriginIP, &record.OriginAgent} {
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

	return record, nil
}
