package amo

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"
)

// Storage abstracts the subset of state backend functionality required by the
// operation journal.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	operationRecordPrefix = []byte("amo/op/")
	operationIndexKey     = []byte("amo/op/index")
)

// Operation kinds recorded within the journal.
const (
	OpKindIncrease = "increase"
	OpKindDecrease = "decrease"
)

// OperationRecord captures the accounting trail for a single supply change.
type OperationRecord struct {
	ID           string
	Kind         string
	Wallet       [20]byte
	StableAmount *big.Int
	DebtUnits    *big.Int
	CreatedAt    int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (o *OperationRecord) Copy() *OperationRecord {
	if o == nil {
		return nil
	}
	clone := *o
	if o.StableAmount != nil {
		clone.StableAmount = new(big.Int).Set(o.StableAmount)
	}
	if o.DebtUnits != nil {
		clone.DebtUnits = new(big.Int).Set(o.DebtUnits)
	}
	return &clone
}

type storedOperationRecord struct {
	ID           string
	Kind         string
	Wallet       [20]byte
	StableAmount string
	DebtUnits    string
	CreatedAt    uint64
}

type operationIndexEntry struct {
	ID        string
	CreatedAt uint64
}

// Journal persists supply operation records in the underlying key-value store.
type Journal struct {
	store Storage
	clock func() time.Time
	newID func() string
}

// NewJournal constructs a journal bound to the provided storage backend.
func NewJournal(store Storage) *Journal {
	return &Journal{
		store: store,
		clock: time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (j *Journal) SetClock(clock func() time.Time) {
	if j == nil || clock == nil {
		return
	}
	j.clock = clock
}

// SetIDSource overrides the operation identifier generator.
func (j *Journal) SetIDSource(newID func() string) {
	if j == nil || newID == nil {
		return
	}
	j.newID = newID
}

// Append records an operation and returns the assigned identifier. Records are
// append-only; an identifier is never reused.
func (j *Journal) Append(record *OperationRecord) (string, error) {
	if j == nil {
		return "", fmt.Errorf("journal not initialised")
	}
	if record == nil {
		return "", fmt.Errorf("journal: record must not be nil")
	}
	if record.Kind != OpKindIncrease && record.Kind != OpKindDecrease {
		return "", fmt.Errorf("journal: unknown operation kind %q", record.Kind)
	}
	stored := toStoredOperation(record)
	if stored.ID == "" {
		stored.ID = j.newID()
	}
	key := operationKey(stored.ID)
	var existing storedOperationRecord
	ok, err := j.store.KVGet(key, &existing)
	if err != nil {
		return "", err
	}
	if ok {
		return "", fmt.Errorf("journal: operation %s already exists", stored.ID)
	}
	if stored.CreatedAt == 0 {
		now := j.clock().UTC().Unix()
		if now > 0 {
			stored.CreatedAt = uint64(now)
		}
	}
	if err := j.store.KVPut(key, stored); err != nil {
		return "", err
	}
	entry := operationIndexEntry{ID: stored.ID, CreatedAt: stored.CreatedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return "", err
	}
	if err := j.store.KVAppend(operationIndexKey, encoded); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// Get retrieves an operation record by identifier.
func (j *Journal) Get(id string) (*OperationRecord, bool, error) {
	if j == nil {
		return nil, false, fmt.Errorf("journal not initialised")
	}
	var stored storedOperationRecord
	ok, err := j.store.KVGet(operationKey(id), &stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	record, err := fromStoredOperation(&stored)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// List returns operation records within the supplied timestamp range, oldest
// first. Both bounds are inclusive; a zero bound is open.
func (j *Journal) List(startTs, endTs int64) ([]*OperationRecord, error) {
	if j == nil {
		return nil, fmt.Errorf("journal not initialised")
	}
	var raw [][]byte
	if err := j.store.KVGetList(operationIndexKey, &raw); err != nil {
		return nil, err
	}
	entries := make([]operationIndexEntry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var entry operationIndexEntry
		if err := rlp.DecodeBytes(encoded, &entry); err != nil {
			return nil, err
		}
		createdAt := int64(entry.CreatedAt)
		if startTs != 0 && createdAt < startTs {
			continue
		}
		if endTs != 0 && createdAt > endTs {
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, k int) bool {
		if entries[i].CreatedAt == entries[k].CreatedAt {
			return entries[i].ID < entries[k].ID
		}
		return entries[i].CreatedAt < entries[k].CreatedAt
	})
	records := make([]*OperationRecord, 0, len(entries))
	for _, entry := range entries {
		record, ok, err := j.Get(entry.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func operationKey(id string) []byte {
	trimmed := strings.TrimSpace(id)
	buf := make([]byte, len(operationRecordPrefix)+len(trimmed))
	copy(buf, operationRecordPrefix)
	copy(buf[len(operationRecordPrefix):], trimmed)
	return buf
}

func toStoredOperation(record *OperationRecord) storedOperationRecord {
	stored := storedOperationRecord{}
	if record == nil {
		return stored
	}
	stored.ID = strings.TrimSpace(record.ID)
	stored.Kind = strings.TrimSpace(record.Kind)
	stored.Wallet = record.Wallet
	if record.StableAmount != nil {
		stored.StableAmount = record.StableAmount.String()
	}
	if record.DebtUnits != nil {
		stored.DebtUnits = record.DebtUnits.String()
	}
	if record.CreatedAt > 0 {
		stored.CreatedAt = uint64(record.CreatedAt)
	}
	return stored
}

func fromStoredOperation(stored *storedOperationRecord) (*OperationRecord, error) {
	if stored == nil {
		return nil, fmt.Errorf("journal: nil stored record")
	}
	record := &OperationRecord{
		ID:        stored.ID,
		Kind:      stored.Kind,
		Wallet:    stored.Wallet,
		CreatedAt: int64(stored.CreatedAt),
	}
	var err error
	if record.StableAmount, err = parseStoredAmount(stored.StableAmount); err != nil {
		return nil, err
	}
	if record.DebtUnits, err = parseStoredAmount(stored.DebtUnits); err != nil {
		return nil, err
	}
	return record, nil
}

func parseStoredAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("journal: invalid amount %q", raw)
	}
	return amount, nil
}
