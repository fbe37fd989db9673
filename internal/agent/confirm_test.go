package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		text string
		want Decision
		ok   bool
	}{
		{"yes", DecisionConfirm, true},
		{"Yes!", DecisionConfirm, true},
		{"ok, send it", DecisionConfirm, true},
		{"go ahead", DecisionConfirm, true},
		{"no", DecisionCancel, true},
		{"No, don't send it", DecisionCancel, true},
		{"cancel", DecisionCancel, true},
		{"never mind", DecisionCancel, true},
		{"what's on my calendar tomorrow?", "", false},
		{"yesterday's meetings", "", false},
		{"ok, what's on my calendar tomorrow?", "", false},
		{"no meetings before 10am from now on", "", false},
		{"yes and also cc alice", "", false},
		{"cancel my 3pm meeting", "", false},
		{"yes please", DecisionConfirm, true},
		{"Cancel it.", DecisionCancel, true},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseDecision(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestIsAbandon(t *testing.T) {
	assert.True(t, isAbandon("Forget it."))
	assert.True(t, isAbandon("never mind"))
	assert.False(t, isAbandon("forget it and send the email anyway"))
}
