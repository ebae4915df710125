package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithTenantOverridesNilKeepsDefaults(t *testing.T) {
	base := DefaultOrchestration()

	out := base.WithTenantOverrides(nil)

	assert.Equal(t, base, out)
}

func TestWithTenantOverridesAppliesFields(t *testing.T) {
	base := DefaultOrchestration()
	urgent := 5
	attempts := 3
	ownerAlert := 45

	out := base.WithTenantOverrides(&TenantOverrides{
		UrgentResponseTimeoutMins: &urgent,
		MaxFollowupAttempts:       &attempts,
		OwnerAlertAfterMins:       &ownerAlert,
	})

	assert.Equal(t, 5*time.Minute, out.UrgentResponseTimeout)
	assert.Equal(t, 3, out.MaxFollowupAttempts)
	assert.Equal(t, 45*time.Minute, out.OwnerAlertAfter)
	// The customer notice tracks the owner alert at twice the delay.
	assert.Equal(t, 90*time.Minute, out.CustomerNoticeAfter)

	// Untouched fields keep their defaults, and the receiver is unchanged.
	assert.Equal(t, base.StandardResponseTimeout, out.StandardResponseTimeout)
	assert.Equal(t, DefaultOrchestration(), base)
}
