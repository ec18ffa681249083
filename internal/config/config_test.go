package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("STAFF_ROLES", "")
	t.Setenv("UNPAID_ORDER_TTL", "")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"admin", "staff", "kitchen"}, cfg.StaffRoles)
	assert.Equal(t, 30*time.Minute, cfg.UnpaidOrderTTL)
	assert.Equal(t, 3*time.Second, cfg.PublishTimeout)
	assert.Equal(t, "0 */1 * * * *", cfg.SweepSchedule)
	assert.Equal(t, 8080, cfg.ServerPort)
}

func TestValidate(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STAFF_ROLES", "kitchen")
	t.Setenv("SWEEP_SCHEDULE", "every minute")

	err := FromEnv().Validate()
	require.Error(t, err)
	for _, want := range []string{"DATABASE_URL", "JWT_SECRET", "STAFF_ROLES", "SWEEP_SCHEDULE"} {
		assert.Contains(t, err.Error(), want)
	}
}
