package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/rlp"
)

// KVStore layers rlp encoding and append-only lists over a raw Database. It
// satisfies the journal storage interface consumed by the supply manager.
type KVStore struct {
	db Database
}

// NewKVStore wraps a database backend.
func NewKVStore(db Database) *KVStore {
	return &KVStore{db: db}
}

// KVPut stores the rlp encoding of value under key.
func (s *KVStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

// KVGet decodes the value stored under key into out. Returns false without
// error when the key is absent.
func (s *KVStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends a raw entry to the list stored under key.
func (s *KVStore) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := s.KVGetList(key, &list); err != nil {
		return err
	}
	list = append(list, value)
	return s.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out. An absent key decodes
// as an empty list.
func (s *KVStore) KVGetList(key []byte, out interface{}) error {
	encoded, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		encoded, err = rlp.EncodeToBytes([][]byte{})
		if err != nil {
			return err
		}
		return rlp.DecodeBytes(encoded, out)
	}
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}
