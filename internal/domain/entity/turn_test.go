package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     TurnRequest
		wantErr bool
	}{
		{"complete", TurnRequest{Shop: "s1", SessionID: "c1", Message: "hi"}, false},
		{"missing shop", TurnRequest{SessionID: "c1", Message: "hi"}, true},
		{"missing session", TurnRequest{Shop: "s1", Message: "hi"}, true},
		{"blank message", TurnRequest{Shop: "s1", SessionID: "c1", Message: "  "}, true},
		{"merge only needs no message", TurnRequest{Shop: "s1", SessionID: "c1", MergeOnly: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidRequest))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTurnRequestWantsMigration(t *testing.T) {
	assert.True(t, TurnRequest{Email: "a@b.com", SessionID: "c1", PreviousSessionID: "g1"}.WantsMigration())
	assert.False(t, TurnRequest{Email: "a@b.com", SessionID: "c1", PreviousSessionID: "c1"}.WantsMigration())
	assert.False(t, TurnRequest{SessionID: "c1", PreviousSessionID: "g1"}.WantsMigration())
	assert.False(t, TurnRequest{Email: "a@b.com", SessionID: "c1"}.WantsMigration())
}

func TestAssistantSettingsApply(t *testing.T) {
	base := DefaultAssistantSettings("s1")
	got := base.Apply(&SettingsOverride{ResponseStyle: "playful"})
	assert.Equal(t, "playful", got.ResponseStyle)
	assert.Equal(t, base.Personality, got.Personality)
	assert.Equal(t, base, base.Apply(nil))
}
