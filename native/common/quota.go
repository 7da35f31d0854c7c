package common

import (
	"errors"
	"math"
	"math/big"
)

var (
	ErrQuotaOpsExceeded     = errors.New("quota operations exceeded")
	ErrQuotaValueExceeded   = errors.New("quota value cap exceeded")
	ErrQuotaCounterOverflow = errors.New("quota counter overflow")
)

// QuotaNow captures the current usage counters for a principal within one
// epoch.
type QuotaNow struct {
	OpCount   uint32
	ValueUsed *big.Int
	EpochID   uint64
}

// Quota limits how many operations, and how much value, a principal may move
// per epoch. Zero fields disable the corresponding limit.
type Quota struct {
	MaxOpsPerEpoch   uint32
	MaxValuePerEpoch *big.Int
	EpochSeconds     uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.MaxOpsPerEpoch > 0 || (q.MaxValuePerEpoch != nil && q.MaxValuePerEpoch.Sign() > 0)
}

// CheckQuota verifies whether the additional operations and value fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded; on denial the previous counters are returned
// untouched.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addOps uint32, addValue *big.Int) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}
	if next.ValueUsed == nil {
		next.ValueUsed = big.NewInt(0)
	}

	if addOps > 0 {
		if next.OpCount > math.MaxUint32-addOps {
			return prev, ErrQuotaCounterOverflow
		}
		next.OpCount += addOps
	}
	if q.MaxOpsPerEpoch > 0 && next.OpCount > q.MaxOpsPerEpoch {
		return prev, ErrQuotaOpsExceeded
	}

	if addValue != nil && addValue.Sign() > 0 {
		next.ValueUsed = new(big.Int).Add(next.ValueUsed, addValue)
	}
	if q.MaxValuePerEpoch != nil && q.MaxValuePerEpoch.Sign() > 0 && next.ValueUsed.Cmp(q.MaxValuePerEpoch) > 0 {
		return prev, ErrQuotaValueExceeded
	}

	return next, nil
}
