package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		allowed  bool
	}{
		{StatusConfiguring, StatusInProgress, true},
		{StatusConfiguring, StatusCompleted, false},
		{StatusConfiguring, StatusFailed, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusTimeout, true},
		{StatusInProgress, StatusConfiguring, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusFailed, false},
		{StatusTimeout, StatusInProgress, false},
		{StatusFailed, StatusTimeout, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseDifficulty(t *testing.T) {
	d, ok := ParseDifficulty(" senior ")
	assert.True(t, ok)
	assert.Equal(t, DifficultySenior, d)

	_, ok = ParseDifficulty("principal")
	assert.False(t, ok)

	assert.Less(t, DifficultyJunior.Rank(), DifficultyMid.Rank())
	assert.Less(t, DifficultyMid.Rank(), DifficultySenior.Rank())
	assert.Less(t, DifficultySenior.Rank(), DifficultyExpert.Rank())
}
