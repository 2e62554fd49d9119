package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "RELAY_SERVER_PORT", "RELAY_CRM_API_TOKEN", "PIPEDRIVE_API_TOKEN",
		"RELAY_CRM_DOMAIN", "PIPEDRIVE_DOMAIN", "RELAY_CRM_PIPELINE_ID", "PIPEDRIVE_PIPELINE_ID",
		"RELAY_AUDIT_SINKS", "RELAY_ATLAS_API_KEY", "PF_API_KEY", "RELAY_ATLAS_API_SECRET", "PF_API_SECRET",
		"RELAY_REDIS_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresCRMToken(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crm.apiToken")
}

func TestLoadDefaultsWithConventionalEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PIPEDRIVE_API_TOKEN", "tok")
	t.Setenv("PORT", "8081")
	t.Setenv("PF_API_KEY", "key")
	t.Setenv("PF_API_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.CRM.APIToken)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "key", cfg.Atlas.APIKey)
	assert.Equal(t, "AED", cfg.CRM.DefaultCurrency)
	assert.Equal(t, 5, cfg.Pipeline.EnrichAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.EnrichBackoff)
	assert.Equal(t, "Property Finder Lead", cfg.Atlas.DefaultName)
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 4000
  rateLimit:
    burst: 10
    window: 30s
crm:
  apiToken: from-file
  pipelineId: 2
  customFields:
    event_id: abc123
    listing_price: def456
audit:
  sinks: [HTTP]
  endpoint: https://audit.example/logs
`), 0o600))
	t.Setenv("RELAY_CRM_PIPELINE_ID", "7")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, RateLimit{Burst: 10, Window: 30 * time.Second}, cfg.Server.RateLimit)
	assert.Equal(t, "from-file", cfg.CRM.APIToken)
	assert.Equal(t, int64(7), cfg.CRM.PipelineID)
	assert.Equal(t, map[string]string{"event_id": "abc123", "listing_price": "def456"}, cfg.CRM.CustomFields)
	assert.True(t, cfg.Audit.Enabled("http"))
	assert.False(t, cfg.Audit.Enabled("kafka"))
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateAuditSinks(t *testing.T) {
	cfg := defaultConfig()
	cfg.CRM.APIToken = "tok"
	cfg.Audit.Sinks = []string{"http", "kafka"}
	cfg.Audit.Topic = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit.endpoint")
	assert.Contains(t, err.Error(), "kafka.brokers/audit.topic")
}

func TestValidateAtlasCredentialsComeInPairs(t *testing.T) {
	cfg := defaultConfig()
	cfg.CRM.APIToken = "tok"
	require.NoError(t, cfg.Validate(), "no credentials means no enrichment")

	cfg.Atlas.APIKey = "key"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "atlas.apiKey/atlas.apiSecret")

	cfg.Atlas.APISecret = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestCRMEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  CRMConfig
		want string
	}{
		{"default", CRMConfig{}, "https://api.pipedrive.com/v1"},
		{"company domain", CRMConfig{Domain: "acme"}, "https://acme.pipedrive.com/api/v1"},
		{"explicit base wins", CRMConfig{Domain: "acme", BaseURL: "http://localhost:9999/v1/"}, "http://localhost:9999/v1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Endpoint())
		})
	}
}
