package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/qanchornet/qanchor/shared"
)

func TestReadingNonExistingConfigFile(t *testing.T) {
	cfg := Config{
		ConfigFile: "non-existing-file",
	}
	_, err := ReadConfigFile(&cfg)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestReadConfigFile(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigFile = filepath.Join(dir, "config.ini")
	ini := `datadir = /tmp

[Genesis]
owner = 0xc0ffee254729296a45a3885639AC7E10F9d54979
relayer = 0x0000000000000000000000000000000000000b0b
relayer = 0x0000000000000000000000000000000000000a11
chain = 101
chain = 137

[Registry]
registry-base-fee = 25000000000
registry-treasury-bps = 8000
registry-timelock-delay = 72h
`
	err := os.WriteFile(cfg.ConfigFile, []byte(ini), 0o600)
	require.NoError(t, err)

	cfg, err = ReadConfigFile(cfg)
	require.NoError(t, err)
	require.Equal(t, "/tmp", cfg.DataDir)
	require.Equal(t, common.HexToAddress("0xc0ffee254729296a45a3885639AC7E10F9d54979"), cfg.Genesis.Owner.Address())
	require.Equal(t, []shared.ChainID{101, 137}, cfg.Genesis.Chains)
	require.Equal(t,
		[]shared.Address{
			common.HexToAddress("0x0000000000000000000000000000000000000b0b"),
			common.HexToAddress("0x0000000000000000000000000000000000000a11"),
		},
		cfg.Genesis.relayerAddresses(),
	)
	require.Equal(t, "25000000000", cfg.Registry.BaseFee.String())
	require.Equal(t, uint32(8000), cfg.Registry.TreasuryBps)
	require.Equal(t, 72*time.Hour, cfg.Registry.TimelockDelay)
}

func TestReadConfigFileRejectsBadAddress(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.ConfigFile = filepath.Join(dir, "config.ini")
	err := os.WriteFile(cfg.ConfigFile, []byte("[Genesis]\nowner = not-an-address\n"), 0o600)
	require.NoError(t, err)

	_, err = ReadConfigFile(cfg)
	require.ErrorContains(t, err, "invalid address")
}

func TestReadConfigFilePathNotSet(t *testing.T) {
	cfg, err := ReadConfigFile(&Config{})
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestSetupConfig(t *testing.T) {
	t.Run("derives subdirs from a custom qanchordir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.QanchorDir = filepath.Join(t.TempDir(), "custom")

		cfg, err := SetupConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(cfg.QanchorDir, defaultDataDirname), cfg.DataDir)
		require.Equal(t, filepath.Join(cfg.QanchorDir, defaultDbDirName), cfg.DbDir)
		require.Equal(t, filepath.Join(cfg.QanchorDir, defaultLogDirname), cfg.LogDir)
		require.DirExists(t, cfg.QanchorDir)
	})
	t.Run("keeps explicitly set dirs", func(t *testing.T) {
		dir := t.TempDir()
		cfg := DefaultConfig()
		cfg.QanchorDir = filepath.Join(dir, "custom")
		cfg.DbDir = filepath.Join(dir, "elsewhere")

		cfg, err := SetupConfig(cfg)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(dir, "elsewhere"), cfg.DbDir)
		require.Equal(t, filepath.Join(cfg.QanchorDir, defaultDataDirname), cfg.DataDir)
	})
}
