package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, DriverSqlite, cfg.DatabaseDriver)
	require.Equal(t, BusMemory, cfg.BusDriver)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, 5, cfg.MaxDeliveries)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("BUS_DRIVER", "redis")
	t.Setenv("FINALIZE_POLL_INTERVAL", "1s")
	t.Setenv("FINALIZE_TICK_BUDGET", "800ms")
	t.Setenv("BUS_MAX_DELIVERIES", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BusRedis, cfg.BusDriver)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 800*time.Millisecond, cfg.TickBudget)
	require.Equal(t, 3, cfg.MaxDeliveries)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown_driver", key: "DATABASE_DRIVER", val: "mongo"},
		{name: "unknown_bus", key: "BUS_DRIVER", val: "kafka"},
		{name: "budget_exceeds_interval", key: "FINALIZE_TICK_BUDGET", val: "1m"},
		{name: "zero_deliveries", key: "BUS_MAX_DELIVERIES", val: "0"},
		{name: "bad_duration", key: "FINALIZE_POLL_INTERVAL", val: "soon"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			require.Error(t, err)
		})
	}
}
