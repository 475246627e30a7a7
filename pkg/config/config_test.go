package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Segment.PostingsEngine)
	assert.Equal(t, "bolt", cfg.Segment.CitationEngine)
	assert.Equal(t, int64(64*1024*1024), cfg.Segment.TargetFileSize)
	assert.Equal(t, "sqlite", cfg.Fulltext.Backend)
	assert.Equal(t, "url-delete", cfg.Kafka.Topics.URLDelete)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segment.yaml")
	yml := `
segment:
  dataDir: /tmp/seg
  entityCacheMaxSize: 42
  postingsEngine: bolt
fulltext:
  backend: postgres
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("SP_SEGMENT_ENTITY_CACHE_MAX_SIZE", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/seg", cfg.Segment.DataDir)
	assert.Equal(t, 7, cfg.Segment.EntityCacheMaxSize)
	assert.Equal(t, "bolt", cfg.Segment.PostingsEngine)
	assert.Equal(t, "postgres", cfg.Fulltext.Backend)
	// untouched keys keep their defaults
	assert.Equal(t, "bolt", cfg.Segment.CitationEngine)
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	cfg := Default()
	cfg.Segment.PostingsEngine = "leveldb"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Fulltext.Backend = "solr"
	assert.Error(t, cfg.Validate())
}
