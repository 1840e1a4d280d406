package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/nurse-call-api/internal/model"
)

func TestRule_Assess(t *testing.T) {
	rule := DefaultRule()

	cases := []struct {
		disease, description string
		want                 model.Priority
	}{
		{"chest pain", "", model.PriorityCritical},
		{"Chest Pain", "started an hour ago", model.PriorityCritical},
		{"asthma", "", model.PriorityHigh},
		{"other", "patient fell near the bed", model.PriorityHigh},
		{"fever", "", model.PriorityMedium},
		{"other", "needs water", model.PriorityLow},
		{"fever", "now having a seizure", model.PriorityCritical},
		{"burns", "hand, from hot tea", model.PriorityHigh},
		{"other", "Fell, hit head.", model.PriorityHigh},
		{"heartburn", "", model.PriorityLow},
		{"fallopian cyst", "", model.PriorityLow},
		{"other", "asked about painkillers", model.PriorityLow},
		{"other", "patient is not breathing!", model.PriorityCritical},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, rule.Assess(tc.disease, tc.description), "%s / %s", tc.disease, tc.description)
	}
}
