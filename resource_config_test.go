package sirix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourceConfigMaxRecordSizeDefault(t *testing.T) {
	cfg := &ResourceConfig{}
	require.Equal(t, MaxRecordSize, cfg.MaxRecordSize())
}

func TestResourceConfigMaxRecordSizeOverride(t *testing.T) {
	cfg := &ResourceConfig{PageSize: 1024}
	require.Equal(t, 1024-PageHeaderReserve, cfg.MaxRecordSize())
}

func TestResourceConfigMaxRecordSizeSmallerThanHeaderReserve(t *testing.T) {
	cfg := &ResourceConfig{PageSize: 32}
	require.Equal(t, 32, cfg.MaxRecordSize())
}

func TestResourceConfigIsActive(t *testing.T) {
	cfg := DefaultResourceConfig()
	require.True(t, cfg.IsActive(IndexDocument))
	require.False(t, cfg.IsActive(IndexCAS))

	cfg.ActiveIndexes[IndexCAS] = true
	require.True(t, cfg.IsActive(IndexCAS))
}

func TestResourceConfigPageCountExponentsFallback(t *testing.T) {
	cfg := DefaultResourceConfig()
	require.Equal(t, DefaultFanoutExponents, cfg.PageCountExponents(IndexCAS))
	documentExponents := cfg.FanoutExponents[IndexDocument]
	require.NotSame(t, &DefaultFanoutExponents, &documentExponents)
}

func TestResourceConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultResourceConfig()
	cfg.StoreDeweyIDs = true
	cfg.RevisioningPolicy = PolicyDifferential
	cfg.ActiveIndexes[IndexPathSummary] = true

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, SaveResourceConfig(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := LoadResourceConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg.PageSize, got.PageSize)
	require.Equal(t, cfg.StoreDeweyIDs, got.StoreDeweyIDs)
	require.Equal(t, cfg.RevisioningPolicy, got.RevisioningPolicy)
	require.True(t, got.ActiveIndexes[IndexPathSummary])
	require.Equal(t, cfg.FanoutExponents[IndexDocument], got.FanoutExponents[IndexDocument])
}

func TestLoadResourceConfigMissingFile(t *testing.T) {
	_, err := LoadResourceConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
