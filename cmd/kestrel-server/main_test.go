package main

import (
	"testing"
	"time"

	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/o11y"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildApp_WiresComponentsWithoutError(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.ListenAddr = "127.0.0.1:0"

	app, err := buildApp(cfg, o11y.NewLogger())
	require.NoError(t, err)
	assert.NotNil(t, app)
}

func TestMapHealth_TranslatesEachState(t *testing.T) {
	now := time.Now()
	cases := []struct {
		in   core.HealthState
		want o11y.HealthStatus
	}{
		{core.HealthHealthy, o11y.Healthy},
		{core.HealthDegraded, o11y.Degraded},
		{core.HealthUnhealthy, o11y.Unhealthy},
	}
	for _, c := range cases {
		got := mapHealth(core.HealthStatus{Status: c.in, Message: "m", Timestamp: now})
		assert.Equal(t, c.want, got.Status)
		assert.Equal(t, "m", got.Message)
	}
}
