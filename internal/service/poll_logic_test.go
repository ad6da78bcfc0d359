package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/okoshkin/teamup/internal/model"
	"github.com/okoshkin/teamup/internal/repository"
)

func TestPollWinner(t *testing.T) {
	base := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	options := []string{"ps-alpha", "ps-beta", "ps-gamma"}

	vote := func(voter, option string, offset time.Duration) *repository.Vote {
		return &repository.Vote{PollID: "poll1", VoterID: voter, OptionID: option, CastAt: base.Add(offset)}
	}

	tests := []struct {
		name     string
		votes    []*repository.Vote
		expected *string
	}{
		{
			name:     "no votes means no winner",
			votes:    nil,
			expected: nil,
		},
		{
			name: "plain majority",
			votes: []*repository.Vote{
				vote("p1", "ps-beta", 0),
				vote("p2", "ps-beta", time.Minute),
				vote("p3", "ps-alpha", 2*time.Minute),
			},
			expected: ptr("ps-beta"),
		},
		{
			name: "tie goes to the option that reached its count first",
			votes: []*repository.Vote{
				vote("p1", "ps-beta", 0),
				vote("p2", "ps-alpha", time.Minute),
			},
			expected: ptr("ps-beta"),
		},
		{
			name: "revote refreshes the deciding timestamp",
			votes: []*repository.Vote{
				vote("p2", "ps-alpha", time.Minute),
				vote("p1", "ps-beta", 2*time.Minute),
			},
			expected: ptr("ps-alpha"),
		},
		{
			name: "exact timestamp tie falls back to candidate order",
			votes: []*repository.Vote{
				vote("p1", "ps-gamma", 0),
				vote("p2", "ps-beta", 0),
			},
			expected: ptr("ps-beta"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pollWinner(options, tt.votes)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			assert.NotNil(t, got)
			assert.Equal(t, *tt.expected, *got)
		})
	}
}

func TestTallyVotes(t *testing.T) {
	options := []string{"ps-alpha", "ps-beta"}
	votes := []*repository.Vote{
		{VoterID: "p1", OptionID: "ps-alpha"},
		{VoterID: "p2", OptionID: "ps-alpha"},
		{VoterID: "p3", OptionID: "ps-beta"},
	}

	assert.Equal(t, []model.TallyEntry{
		{OptionID: "ps-alpha", Votes: 2},
		{OptionID: "ps-beta", Votes: 1},
	}, tallyVotes(options, votes))
}

func ptr(s string) *string {
	return &s
}
