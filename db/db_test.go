package db_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/qanchornet/qanchor/db"
)

func TestPutGetObject(t *testing.T) {
	t.Parallel()
	kv, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	type record struct {
		Name  string
		Count uint64
	}

	require.NoError(t, kv.PutObject([]byte("r1"), &record{Name: "alpha", Count: 7}))

	var got record
	require.NoError(t, kv.GetObject([]byte("r1"), &got))
	require.Equal(t, record{Name: "alpha", Count: 7}, got)

	err = kv.GetObject([]byte("missing"), &got)
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestBatchWrite(t *testing.T) {
	t.Parallel()
	kv, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	batch := new(leveldb.Batch)
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	require.NoError(t, kv.Write(batch))

	a, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), a)
	b, err := kv.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), b)
}

func TestPrefixIterator(t *testing.T) {
	t.Parallel()
	kv, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	require.NoError(t, kv.Put([]byte("v/one"), []byte("1")))
	require.NoError(t, kv.Put([]byte("v/two"), []byte("2")))
	require.NoError(t, kv.Put([]byte("w/other"), []byte("3")))

	iter := kv.Iterator([]byte("v/"))
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	require.NoError(t, iter.Error())
	require.ElementsMatch(t, []string{"v/one", "v/two"}, keys)
}

var kvs = map[string][]byte{
	"key":  []byte("value"),
	"key2": []byte("value2"),
	"key3": []byte("value3"),
}

func TestMigrateDb(t *testing.T) {
	// open a database and write some data
	oldDbPath := t.TempDir()
	oldDb, err := leveldb.OpenFile(oldDbPath, nil)
	require.NoError(t, err)
	defer oldDb.Close()
	for k, v := range kvs {
		require.NoError(t, oldDb.Put([]byte(k), v, nil))
	}
	oldDb.Close()

	// migrate the database
	newDbPath := t.TempDir()
	require.NoError(t, db.Migrate(context.Background(), newDbPath, oldDbPath))

	// open the new database and check that the data was copied
	newDb, err := leveldb.OpenFile(newDbPath, nil)
	require.NoError(t, err)
	defer newDb.Close()

	for k, v := range kvs {
		value, err := newDb.Get([]byte(k), nil)
		require.NoError(t, err)
		require.Equal(t, v, value)
	}

	// old DB should be removed
	_, err = os.Stat(oldDbPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSkipMigrateInPlace(t *testing.T) {
	dbPath := t.TempDir()
	database, err := leveldb.OpenFile(dbPath, nil)
	require.NoError(t, err)
	defer database.Close()
	for k, v := range kvs {
		require.NoError(t, database.Put([]byte(k), v, nil))
	}
	database.Close()

	require.NoError(t, db.Migrate(context.Background(), dbPath, dbPath))

	database, err = leveldb.OpenFile(dbPath, nil)
	require.NoError(t, err)
	defer database.Close()

	for k, v := range kvs {
		value, err := database.Get([]byte(k), nil)
		require.NoError(t, err)
		require.Equal(t, v, value)
	}
}

func TestSkipMigrateSrcDoesntExist(t *testing.T) {
	require.NoError(t, db.Migrate(context.Background(), t.TempDir(), filepath.Join(t.TempDir(), "i-dont-exist")))
}

func TestDontMigrateIfTargetExists(t *testing.T) {
	sourcePath := t.TempDir()
	srcDb, err := leveldb.OpenFile(sourcePath, nil)
	require.NoError(t, err)
	srcDb.Close()

	// Target already exists
	targetPath := t.TempDir()
	targetDb, err := leveldb.OpenFile(targetPath, nil)
	require.NoError(t, err)
	targetDb.Close()

	err = db.Migrate(context.Background(), targetPath, sourcePath)
	require.Error(t, err)
	require.ErrorContains(t, err, "exist")
}
