package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTeamName(t *testing.T) {
	valid := []string{"night-owls", "team_42", "abc", "a2345678901234567890123456789012"}
	for _, name := range valid {
		assert.True(t, ValidTeamName(name), name)
	}

	invalid := []string{"", "ab", "Night-Owls", "1team", "-team", "team name", "a234567890123456789012345678901234"}
	for _, name := range invalid {
		assert.False(t, ValidTeamName(name), name)
	}
}
