package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	conf, err := load(koanf.New("."), path)
	require.NoError(t, err)

	assert.Equal(t, 9000, conf.Server.Port)
	assert.Equal(t, "redis", conf.TxStore.Driver)
	assert.Equal(t, uint64(5*1024*1024), Bytes(conf.Upload.ChunkSize))
	assert.Equal(t, uint64(15*1024*1024), Bytes(conf.Upload.WholeFileMax))
	assert.Equal(t, uint64(1024*1024), Bytes(conf.Upload.SampleSize))
	assert.Equal(t, uint64(0), Bytes(conf.Upload.MaxBlobSize))
	assert.Equal(t, 5, conf.Upload.MaxConcurrentUploads)
	assert.Equal(t, 10, conf.Upload.SampleCount)
	assert.Equal(t, 72*time.Hour, conf.Upload.TransactionTTL)
	assert.Equal(t, 60*time.Second, conf.Upload.SlotTTL)
}

func TestLoadDurationsAndSizes(t *testing.T) {
	path := writeConfig(t, `
upload:
  chunk_size: 8MiB
  transaction_ttl: 24h
  slot_ttl: 30s
txstore:
  driver: badger
`)

	conf, err := load(koanf.New("."), path)
	require.NoError(t, err)

	assert.Equal(t, uint64(8*1024*1024), Bytes(conf.Upload.ChunkSize))
	assert.Equal(t, 24*time.Hour, conf.Upload.TransactionTTL)
	assert.Equal(t, 30*time.Second, conf.Upload.SlotTTL)
	assert.Equal(t, "badger", conf.TxStore.Driver)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "storage:\n  root: /srv/blobs\n")
	t.Setenv("STORAGE_ROOT", "/mnt/override")
	t.Setenv("APP_REDIS_PORT", "6390")

	conf, err := load(koanf.New("."), path)
	require.NoError(t, err)

	assert.Equal(t, "/mnt/override", conf.Storage.Root)
	assert.Equal(t, 6390, conf.Redis.Port)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "txstore:\n  driver: etcd\n"},
		{"bad size", "upload:\n  chunk_size: five megs\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(koanf.New("."), writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := load(koanf.New("."), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
