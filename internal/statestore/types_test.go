package statestore

import (
	"encoding/json"
	"testing"
)

func TestModeValid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeGathering, true},
		{ModeOnline, true},
		{ModePassive, true},
		{ModeNone, false},
		{Mode("ONLINE "), false},
	}
	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestKeyBuilders(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{ModeKey(7), "mode:7"},
		{DirectQueueKey(7), "direct_queue:7"},
		{BackgroundQueueKey(7), "background_queue:7"},
		{OnlineBatchQueueKey(7), "online_batch_queue:7"},
		{ReplyCountKey(7), "online_replies_count:7"},
		{CooldownKey(7, 42), "online_user_cooldown:7:42"},
		{ShortTermKey(7), "short_term_memory:7"},
		{TimeOfDayKey(7), "timeofday:7"},
		{ConfigCacheKey(-100123), "config_data:-100123"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestMessagePayload_JSON(t *testing.T) {
	p := MessagePayload{
		UserID:         42,
		ChatID:         -100,
		Text:           "hello",
		Timestamp:      1700000000,
		ReplyToPersona: true,
		Participant: &ParticipantInfo{
			ID:                3,
			Name:              "Pete",
			RelationshipScore: 60,
		},
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded MessagePayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.UserID != 42 || !decoded.ReplyToPersona {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Participant == nil || decoded.Participant.Name != "Pete" {
		t.Errorf("participant = %+v", decoded.Participant)
	}
}

func TestMessagePayload_UnknownSender(t *testing.T) {
	data, err := json.Marshal(MessagePayload{UserID: 1, Text: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded MessagePayload
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Participant != nil {
		t.Error("unknown sender must round-trip as nil participant")
	}
}
