package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/qanchornet/qanchor/logging"
	"github.com/qanchornet/qanchor/util"
)

const stateFilename = "state.bin"

// KeyEnvVar names the environment variable carrying a base64-encoded
// service identity key, overriding generation on first start.
const KeyEnvVar = "QANCHOR_PRIVATE_KEY"

// state is the daemon's persisted identity: the ed25519 key that signs the
// outbound event feed.
type state struct {
	PrivKey []byte
}

func saveState(datadir string, s *state) error {
	return util.Persist(filepath.Join(datadir, stateFilename), s)
}

// loadState resolves the service identity key. An explicitly provided key
// must match any persisted one; with neither present a fresh key is
// generated. The caller persists the result.
func loadState(ctx context.Context, datadir, encodedKey string) (*state, error) {
	var explicit ed25519.PrivateKey
	if encodedKey != "" {
		key, err := base64.StdEncoding.DecodeString(encodedKey)
		if err != nil {
			return nil, fmt.Errorf("decoding service identity key: %w", err)
		}
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid service identity key: %d bytes", len(key))
		}
		explicit = key
	}

	persisted := &state{}
	switch err := util.Load(filepath.Join(datadir, stateFilename), persisted); {
	case errors.Is(err, fs.ErrNotExist):
		persisted = nil
	case err != nil:
		return nil, err
	}
	if persisted != nil && len(persisted.PrivKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid persisted service identity key: %d bytes", len(persisted.PrivKey))
	}

	switch {
	case persisted != nil && explicit != nil:
		if !bytes.Equal(persisted.PrivKey, explicit) {
			return nil, errors.New("provided service identity key does not match the persisted one")
		}
		return persisted, nil
	case persisted != nil:
		return persisted, nil
	case explicit != nil:
		return &state{PrivKey: explicit}, nil
	default:
		logging.FromContext(ctx).Info("generating new service identity key")
		_, key, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("generating service identity key: %w", err)
		}
		return &state{PrivKey: key}, nil
	}
}
