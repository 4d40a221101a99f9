package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		current Stage
		target  Stage
		want    Transition
		wantErr bool
	}{
		{"init stays", StageInit, StageInit, TransitionStay, false},
		{"init to quiz", StageInit, StageQuiz, TransitionAdvance, false},
		{"init skips to coding", StageInit, StageCoding, TransitionReject, true},
		{"init skips to chat", StageInit, StageChat, TransitionReject, true},
		{"quiz to coding", StageQuiz, StageCoding, TransitionAdvance, false},
		{"quiz back to init", StageQuiz, StageInit, TransitionReject, true},
		{"coding to chat", StageCoding, StageChat, TransitionAdvance, false},
		{"coding back to quiz", StageCoding, StageQuiz, TransitionReject, true},
		{"chat stays", StageChat, StageChat, TransitionStay, false},
		{"chat to completed", StageChat, StageCompleted, TransitionReject, true},
		{"completed stays", StageCompleted, StageCompleted, TransitionReject, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateTransition(tc.current, tc.target)
			if got != tc.want {
				t.Errorf("ValidateTransition(%s, %s) = %v, want %v", tc.current, tc.target, got, tc.want)
			}
			if tc.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseStageRoundTrip(t *testing.T) {
	for s := StageInit; s <= StageCompleted; s++ {
		got, err := ParseStage(s.String())
		if err != nil {
			t.Fatalf("ParseStage(%q) failed: %v", s.String(), err)
		}
		if got != s {
			t.Errorf("ParseStage(%q) = %v, want %v", s.String(), got, s)
		}
	}

	if got, err := ParseStage(""); err != nil || got != StageInit {
		t.Errorf("empty stage should parse to init, got %v, %v", got, err)
	}
	if _, err := ParseStage("review"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for unknown stage, got %v", err)
	}
}

func TestSessionIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	if (&Session{}).IsExpired(now) {
		t.Error("session without expiry must not be expired")
	}
	if !(&Session{ExpiresAt: &past}).IsExpired(now) {
		t.Error("session with past expiry must be expired")
	}
	if !(&Session{ExpiresAt: &now}).IsExpired(now) {
		t.Error("expiry equal to now must count as expired")
	}
	if (&Session{ExpiresAt: &future}).IsExpired(now) {
		t.Error("session with future expiry must not be expired")
	}
}
