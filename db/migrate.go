package db

import (
	"context"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/zap"

	"github.com/qanchornet/qanchor/logging"
)

// Migrate relocates a unit database to a new directory. Earlier releases
// kept all unit state under a single directory; the server now gives every
// unit its own. It copies all keys into the target and removes the old
// database afterwards.
func Migrate(ctx context.Context, targetDir, oldDir string) error {
	log := logging.FromContext(ctx)
	if oldDir == targetDir {
		log.Debug("skipping in-place database migration", zap.String("dir", targetDir))
		return nil
	}

	oldDb, err := leveldb.OpenFile(oldDir, &opt.Options{ErrorIfMissing: true})
	switch {
	case os.IsNotExist(err):
		log.Debug("nothing to migrate", zap.String("oldDir", oldDir))
		return nil
	case err != nil:
		return fmt.Errorf("opening old database: %w", err)
	}
	defer oldDb.Close()

	log.Info("migrating unit database", zap.String("oldDir", oldDir), zap.String("targetDir", targetDir))

	targetDb, err := leveldb.OpenFile(targetDir, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return fmt.Errorf("opening target database: %w", err)
	}
	defer targetDb.Close()

	tx, err := targetDb.OpenTransaction()
	if err != nil {
		return fmt.Errorf("opening target transaction: %w", err)
	}
	iter := oldDb.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		if err := tx.Put(iter.Key(), iter.Value(), nil); err != nil {
			tx.Discard()
			return fmt.Errorf("copying key %X: %w", iter.Key(), err)
		}
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		tx.Discard()
		return fmt.Errorf("iterating old database: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	if err := oldDb.Close(); err != nil {
		return fmt.Errorf("closing old database: %w", err)
	}
	if err := os.RemoveAll(oldDir); err != nil {
		return fmt.Errorf("removing old database: %w", err)
	}
	log.Info("unit database migrated", zap.String("targetDir", targetDir))
	return nil
}
