package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.False(t, cfg.SearchEnabled)
	assert.Equal(t, 3, cfg.SchedulerPoolSize)
	assert.Equal(t, 1000, cfg.SettlementChunkSize)
	assert.Equal(t, 100, cfg.IndexPageSize)
	assert.Equal(t, 5*time.Minute, cfg.ScheduleReloadInterval)
	assert.Equal(t, time.Minute, cfg.IndexQueueInterval)
	assert.Equal(t, []string{"http://localhost:9200"}, cfg.ElasticsearchURLs)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SEARCH_ENABLED", "true")
	t.Setenv("ELASTICSEARCH_URLS", "http://es1:9200, http://es2:9200")
	t.Setenv("SCHEDULER_POOL_SIZE", "5")
	t.Setenv("INDEX_QUEUE_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.SearchEnabled)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.ElasticsearchURLs)
	assert.Equal(t, 5, cfg.SchedulerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.IndexQueueInterval)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SCHEDULER_POOL_SIZE", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)
}
