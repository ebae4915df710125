package followup

import (
	"fmt"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/model"
)

type StageAction string

const (
	ActionText       StageAction = "text"
	ActionCall       StageAction = "call"
	ActionDoubleCall StageAction = "double_call"
)

// StageDefinition is one entry of the ordered follow-up cascade. Stages
// are numbered from 1. DelayToNext is the wait between completing this
// stage and firing the next one; it is ignored on the terminal stage.
type StageDefinition struct {
	Stage       int
	Action      StageAction
	Template    string
	DelayToNext time.Duration
	// CreatesPaymentLink marks the terminal stage's extra action, taken
	// only when the lead has a job attached.
	CreatesPaymentLink bool
}

// IsTerminal reports whether the stage is the last of the table.
func (d StageDefinition) IsTerminal(table []StageDefinition) bool {
	return d.Stage >= len(table)
}

// DefaultStages is the built-in five-stage cascade. Tenants can override
// the delays, never the order or actions.
var DefaultStages = []StageDefinition{
	{Stage: 1, Action: ActionText, Template: "intro", DelayToNext: 5 * time.Minute},
	{Stage: 2, Action: ActionCall, DelayToNext: 30 * time.Minute},
	{Stage: 3, Action: ActionDoubleCall, DelayToNext: 2 * time.Hour},
	{Stage: 4, Action: ActionText, Template: "checkin", DelayToNext: 24 * time.Hour},
	{Stage: 5, Action: ActionText, Template: "final", CreatesPaymentLink: true},
}

var messageTemplates = map[string]string{
	"intro":   "Hi %s, thanks for reaching out to %s! We'd love to help. Reply here or give us a call and we'll get you booked in.",
	"checkin": "Hi %s, just checking in from %s. Still interested? We have openings this week.",
	"final":   "Hi %s, last note from %s. If you'd like to go ahead, you can book and pay securely here: %s",
}

// RenderMessage fills the stage's template with lead and business names.
// The final template takes an optional payment link as its third value.
func RenderMessage(template string, lead model.Lead, paymentURL string) string {
	businessName := lead.BusinessName
	if businessName == "" {
		businessName = "our team"
	}
	tpl, ok := messageTemplates[template]
	if !ok {
		return fmt.Sprintf("Hi %s, following up from %s.", lead.Name, businessName)
	}
	if template == "final" {
		link := paymentURL
		if link == "" {
			link = "our booking page"
		}
		return fmt.Sprintf(tpl, lead.Name, businessName, link)
	}
	return fmt.Sprintf(tpl, lead.Name, businessName)
}

// StageByNumber returns the definition for stage n, or false when n is
// out of range.
func StageByNumber(table []StageDefinition, n int) (StageDefinition, bool) {
	if n < 1 || n > len(table) {
		return StageDefinition{}, false
	}
	return table[n-1], true
}

// ApplyDelayOverrides returns a copy of the table with tenant delay
// overrides (minutes, keyed by stage number) applied.
func ApplyDelayOverrides(table []StageDefinition, overrides *config.TenantOverrides) []StageDefinition {
	if overrides == nil || len(overrides.StageDelayMinutes) == 0 {
		return table
	}
	out := make([]StageDefinition, len(table))
	copy(out, table)
	for i := range out {
		if mins, ok := overrides.StageDelayMinutes[out[i].Stage]; ok && mins > 0 {
			out[i].DelayToNext = time.Duration(mins) * time.Minute
		}
	}
	return out
}

// TaskKey builds the idempotency key for a lead's follow-up stage task.
func TaskKey(tenantID, leadID int64, stage int) string {
	return fmt.Sprintf("tenant:%d:lead:%d:stage:%d", tenantID, leadID, stage)
}

// SecondCallKey builds the key for the delayed second dial of a
// double-call stage.
func SecondCallKey(tenantID, leadID int64, stage int) string {
	return fmt.Sprintf("tenant:%d:lead:%d:stage:%d:second_call", tenantID, leadID, stage)
}
