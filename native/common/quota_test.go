package common

import (
	"errors"
	"math/big"
	"testing"
)

func TestCheckQuotaOpLimit(t *testing.T) {
	q := Quota{MaxOpsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.OpCount != 10 {
		t.Fatalf("unexpected op count: %d", next.OpCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, nil)
	if !errors.Is(err, ErrQuotaOpsExceeded) {
		t.Fatalf("expected ErrQuotaOpsExceeded, got %v", err)
	}
	if denied.OpCount != next.OpCount || denied.EpochID != next.EpochID {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.OpCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestCheckQuotaValueCap(t *testing.T) {
	q := Quota{MaxValuePerEpoch: big.NewInt(1000)}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 0, big.NewInt(1000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ValueUsed.Int64() != 1000 {
		t.Fatalf("unexpected value used: %s", next.ValueUsed)
	}

	denied, err := CheckQuota(q, 5, next, 0, big.NewInt(1))
	if !errors.Is(err, ErrQuotaValueExceeded) {
		t.Fatalf("expected ErrQuotaValueExceeded, got %v", err)
	}
	if denied.ValueUsed.Cmp(next.ValueUsed) != 0 {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 6, next, 0, big.NewInt(500))
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.ValueUsed.Int64() != 500 {
		t.Fatalf("unexpected value used after rollover: %s", rollover.ValueUsed)
	}
}

func TestQuotaEnabled(t *testing.T) {
	if (Quota{}).Enabled() {
		t.Fatalf("empty quota must be disabled")
	}
	if !(Quota{MaxOpsPerEpoch: 1}).Enabled() {
		t.Fatalf("op-limited quota must be enabled")
	}
	if !(Quota{MaxValuePerEpoch: big.NewInt(1)}).Enabled() {
		t.Fatalf("value-limited quota must be enabled")
	}
}
