package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, PersistenceRedis, cfg.Persistence.Backend)
	assert.Equal(t, InventoryMemory, cfg.Inventory.Backend)
	assert.Equal(t, 10*time.Second, cfg.Cart.ValidationTimeout)
	assert.True(t, cfg.Cart.ClampQuantities)
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, "checkout-outbox", cfg.Kafka.Topic)
	assert.Equal(t, uint32(5), cfg.Inventory.Breaker.ConsecutiveFailures)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("PERSISTENCE_BACKEND", "Mongo")
	t.Setenv("INVENTORY_BACKEND", "square")
	t.Setenv("SQUARE_ACCESS_TOKEN", "token")
	t.Setenv("SQUARE_LOCATION_IDS", "L1, L2")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CART_VALIDATION_TIMEOUT", "3s")
	t.Setenv("CART_CLAMP_QUANTITIES", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, PersistenceMongo, cfg.Persistence.Backend)
	assert.Equal(t, []string{"L1", "L2"}, cfg.Inventory.Square.LocationIDs)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 3*time.Second, cfg.Cart.ValidationTimeout)
	assert.False(t, cfg.Cart.ClampQuantities)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.yaml")
	content := `
http:
  port: "7000"
persistence:
  backend: memory
kafka:
  brokers:
    - a:9092
    - b:9092
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.HTTP.Port)
	assert.Equal(t, PersistenceMemory, cfg.Persistence.Backend)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown persistence", env: map[string]string{"PERSISTENCE_BACKEND": "sqlite"}},
		{name: "unknown inventory", env: map[string]string{"INVENTORY_BACKEND": "erp"}},
		{name: "square without token", env: map[string]string{"INVENTORY_BACKEND": "square", "SQUARE_LOCATION_IDS": "L1"}},
		{name: "square without locations", env: map[string]string{"INVENTORY_BACKEND": "square", "SQUARE_ACCESS_TOKEN": "t"}},
		{name: "zero request timeout", env: map[string]string{"HTTP_WRITE_TIMEOUT": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
