package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}

	applyDefaults(cfg)

	assert.Equal(t, "substitution-marketplace", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 2, cfg.Marketplace.DailyToggleLimit)
	assert.Equal(t, 10, cfg.Marketplace.MinJustificationLen)
	assert.Equal(t, 6*time.Hour, cfg.Marketplace.ImmediateTTL)
	assert.Equal(t, 24*time.Hour, cfg.Marketplace.ConfirmationTTL)
	assert.Equal(t, 5*time.Minute, cfg.Marketplace.SweepInterval)
	assert.Equal(t, "postings", cfg.Database.Elasticsearch.Index)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestApplyDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{}
	cfg.Marketplace.DailyToggleLimit = 5
	cfg.Marketplace.ConfirmationTTL = 48 * time.Hour

	applyDefaults(cfg)

	assert.Equal(t, 5, cfg.Marketplace.DailyToggleLimit)
	assert.Equal(t, 48*time.Hour, cfg.Marketplace.ConfirmationTTL)
}

func TestValidateConfig(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	// Postgres host is the one setting with no sensible default.
	err := validateConfig(cfg)
	assert.Error(t, err)

	cfg.Database.Postgres.Host = "localhost"
	assert.NoError(t, validateConfig(cfg))

	cfg.Marketplace.DailyToggleLimit = 0
	assert.Error(t, validateConfig(cfg))
}

func TestGetDSN(t *testing.T) {
	p := PostgresConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "marketplace",
		User:     "svc",
		Password: "secret",
		SSLMode:  "require",
	}

	dsn := p.GetDSN()

	assert.Contains(t, dsn, "host=db.internal")
	assert.Contains(t, dsn, "dbname=marketplace")
	assert.Contains(t, dsn, "sslmode=require")
}
