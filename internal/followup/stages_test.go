package followup

import (
	"testing"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStagesShape(t *testing.T) {
	require.Len(t, DefaultStages, 5)

	assert.Equal(t, ActionText, DefaultStages[0].Action)
	assert.Equal(t, ActionCall, DefaultStages[1].Action)
	assert.Equal(t, ActionDoubleCall, DefaultStages[2].Action)
	assert.Equal(t, ActionText, DefaultStages[3].Action)
	assert.Equal(t, ActionText, DefaultStages[4].Action)

	last := DefaultStages[4]
	assert.True(t, last.CreatesPaymentLink)
	assert.True(t, last.IsTerminal(DefaultStages))
	assert.False(t, DefaultStages[0].IsTerminal(DefaultStages))
}

func TestRenderMessage(t *testing.T) {
	lead := model.Lead{Name: "Dana", BusinessName: "Acme Plumbing"}

	intro := RenderMessage("intro", lead, "")
	assert.Contains(t, intro, "Dana")
	assert.Contains(t, intro, "Acme Plumbing")

	final := RenderMessage("final", lead, "https://pay.example.com/x")
	assert.Contains(t, final, "https://pay.example.com/x")

	// No payment link available: generic wording, never an empty slot.
	finalNoLink := RenderMessage("final", lead, "")
	assert.Contains(t, finalNoLink, "our booking page")

	// Missing business name falls back to a neutral sender.
	noBiz := RenderMessage("intro", model.Lead{Name: "Dana"}, "")
	assert.Contains(t, noBiz, "our team")

	unknown := RenderMessage("nope", lead, "")
	assert.Contains(t, unknown, "Dana")
}

func TestStageByNumber(t *testing.T) {
	def, ok := StageByNumber(DefaultStages, 3)
	require.True(t, ok)
	assert.Equal(t, ActionDoubleCall, def.Action)

	_, ok = StageByNumber(DefaultStages, 0)
	assert.False(t, ok)
	_, ok = StageByNumber(DefaultStages, 6)
	assert.False(t, ok)
}

func TestApplyDelayOverrides(t *testing.T) {
	overrides := &config.TenantOverrides{
		StageDelayMinutes: map[int]int{1: 10, 3: 45},
	}

	out := ApplyDelayOverrides(DefaultStages, overrides)

	assert.Equal(t, 10*time.Minute, out[0].DelayToNext)
	assert.Equal(t, 30*time.Minute, out[1].DelayToNext)
	assert.Equal(t, 45*time.Minute, out[2].DelayToNext)

	// The default table is untouched.
	assert.Equal(t, 5*time.Minute, DefaultStages[0].DelayToNext)

	same := ApplyDelayOverrides(DefaultStages, nil)
	assert.Equal(t, DefaultStages, same)
}

func TestTaskKeys(t *testing.T) {
	assert.Equal(t, "tenant:1:lead:42:stage:3", TaskKey(1, 42, 3))
	assert.Equal(t, "tenant:1:lead:42:stage:3:second_call", SecondCallKey(1, 42, 3))
}
