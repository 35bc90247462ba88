package db

import (
	"bytes"
	"fmt"

	xdr "github.com/nullstyle/go-xdr/xdr3"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = leveldb.ErrNotFound

// syncWrite makes every commit hit the disk before returning. Unit state
// must survive a crash between an accepted operation and the next one.
var syncWrite = &opt.WriteOptions{Sync: true}

// KV is the store backing a single unit. Every unit owns one KV and
// serializes access to it behind the unit mutex.
type KV struct {
	*leveldb.DB
}

func Open(path string) (*KV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database @ %s: %w", path, err)
	}
	return &KV{db}, nil
}

func (kv *KV) Close() error {
	return kv.DB.Close()
}

func (kv *KV) Put(key, value []byte) error {
	return kv.DB.Put(key, value, syncWrite)
}

func (kv *KV) Get(key []byte) ([]byte, error) {
	return kv.DB.Get(key, nil)
}

func (kv *KV) Has(key []byte) (bool, error) {
	return kv.DB.Has(key, nil)
}

func (kv *KV) Delete(key []byte) error {
	return kv.DB.Delete(key, syncWrite)
}

// Write commits a batch atomically. Operations that touch several keys
// (a record plus its counters) go through here so partial state never
// lands on disk.
func (kv *KV) Write(batch *leveldb.Batch) error {
	return kv.DB.Write(batch, syncWrite)
}

// Iterator walks all keys sharing prefix. Pass nil to walk the whole store.
func (kv *KV) Iterator(prefix []byte) iterator.Iterator {
	var slice *util.Range
	if prefix != nil {
		slice = util.BytesPrefix(prefix)
	}
	return kv.DB.NewIterator(slice, nil)
}

// Marshal XDR-encodes v for storage.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("serializing: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal XDR-decodes stored data into v.
func Unmarshal(data []byte, v any) error {
	if _, err := xdr.Unmarshal(bytes.NewReader(data), v); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	return nil
}

// GetObject loads and decodes the value under key into v.
func (kv *KV) GetObject(key []byte, v any) error {
	data, err := kv.Get(key)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// PutObject encodes v and stores it under key with a synced write.
func (kv *KV) PutObject(key []byte, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return kv.Put(key, data)
}
