package portalauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestDeviceStore(t *testing.T) (*deviceStore, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newTestClock(time.Unix(1_700_000_000, 0))
	store := newDeviceStore(rdb, clock.Now)
	return store, func() { mr.Close() }
}

func TestDeviceStoreConcurrentActivateSingleWinner(t *testing.T) {
	store, done := newTestDeviceStore(t)
	defer done()

	record, err := store.EnsurePending(context.Background(), "u1", "phone", "dev-1", []byte("12345678901234567890"))
	if err != nil {
		t.Fatalf("EnsurePending failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.Activate(context.Background(), "u1", record.DeviceID, 100)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, errActiveDeviceSet), errors.Is(err, errNoPendingDevice):
		default:
			t.Fatalf("racer %d: unexpected error %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one successful activation, got %d", winners)
	}

	active, err := store.GetActive(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if !active.Confirmed || active.LastStep != 100 {
		t.Fatalf("unexpected active record: %+v", active)
	}
}

func TestDeviceStoreRecordVerificationMonotonic(t *testing.T) {
	store, done := newTestDeviceStore(t)
	defer done()

	record, err := store.EnsurePending(context.Background(), "u1", "phone", "dev-1", []byte("12345678901234567890"))
	if err != nil {
		t.Fatalf("EnsurePending failed: %v", err)
	}
	if _, err := store.Activate(context.Background(), "u1", record.DeviceID, 100); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := store.RecordVerification(context.Background(), record.DeviceID, 101); err != nil {
		t.Fatalf("RecordVerification failed: %v", err)
	}

	// equal and lower steps lose the compare-and-set
	for _, step := range []int64{101, 100, 50} {
		err := store.RecordVerification(context.Background(), record.DeviceID, step)
		if !errors.Is(err, errCodeStepReplayed) {
			t.Fatalf("step %d: expected errCodeStepReplayed, got %v", step, err)
		}
	}

	active, err := store.GetActive(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.LastStep != 101 {
		t.Fatalf("expected LastStep 101, got %d", active.LastStep)
	}
}

func TestDeviceStorePendingRecreatedAfterStaleMarker(t *testing.T) {
	store, done := newTestDeviceStore(t)
	defer done()

	record, err := store.EnsurePending(context.Background(), "u1", "phone", "dev-1", []byte("12345678901234567890"))
	if err != nil {
		t.Fatalf("EnsurePending failed: %v", err)
	}

	// simulate a record evicted from under its pending marker
	if err := store.redis.Del(context.Background(), store.key(record.DeviceID)).Err(); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	fresh, err := store.EnsurePending(context.Background(), "u1", "phone", "dev-2", []byte("09876543210987654321"))
	if err != nil {
		t.Fatalf("EnsurePending after stale marker failed: %v", err)
	}
	if fresh.DeviceID != "dev-2" {
		t.Fatalf("expected a recreated pending device, got %+v", fresh)
	}
}

func TestDeviceRecordCodecRejectsCorruptData(t *testing.T) {
	record := &totpDeviceRecord{
		DeviceID:  "dev-1",
		UserID:    "u1",
		Name:      "phone",
		Secret:    []byte("12345678901234567890"),
		Confirmed: true,
		LastStep:  42,
		CreatedAt: 1_700_000_000,
	}
	data, err := encodeTOTPDevice(record)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	if _, err := decodeTOTPDevice(data[:len(data)/2]); err == nil {
		t.Fatal("expected truncated record to fail decoding")
	}

	bad := append([]byte(nil), data...)
	bad[0] = 99 // unknown schema version
	if _, err := decodeTOTPDevice(bad); err == nil {
		t.Fatal("expected unknown version to fail decoding")
	}
}
