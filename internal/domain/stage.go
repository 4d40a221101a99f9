package domain

import "fmt"

// Stage is one phase of an interview session. The zero value is StageInit.
type Stage int

const (
	StageInit Stage = iota
	StageQuiz
	StageCoding
	StageChat
	StageCompleted
)

var stageNames = [...]string{
	StageInit:      "init",
	StageQuiz:      "quiz",
	StageCoding:    "coding",
	StageChat:      "chat",
	StageCompleted: "completed",
}

// String returns the wire name of the stage.
func (s Stage) String() string {
	if s < StageInit || s > StageCompleted {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage converts a wire name into a Stage. An empty string is StageInit,
// matching sessions that never started.
func ParseStage(name string) (Stage, error) {
	if name == "" {
		return StageInit, nil
	}
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return StageInit, fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, name)
}

// Next returns the immediate successor of s. StageChat has no candidate-driven
// successor: completion is reserved for the finalizer.
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageInit:
		return StageQuiz, true
	case StageQuiz:
		return StageCoding, true
	case StageCoding:
		return StageChat, true
	default:
		return s, false
	}
}

// Transition is the verdict for a requested stage change.
type Transition int

const (
	TransitionReject Transition = iota
	TransitionStay
	TransitionAdvance
)

// transitions maps (current, requested) to a verdict. Anything absent is rejected.
var transitions = map[Stage]map[Stage]Transition{
	StageInit: {
		StageInit: TransitionStay,
		StageQuiz: TransitionAdvance,
	},
	StageQuiz: {
		StageQuiz:   TransitionStay,
		StageCoding: TransitionAdvance,
	},
	StageCoding: {
		StageCoding: TransitionStay,
		StageChat:   TransitionAdvance,
	},
	StageChat: {
		StageChat: TransitionStay,
	},
}

// CheckTransition looks up the verdict for moving from current to target.
func CheckTransition(current, target Stage) Transition {
	return transitions[current][target]
}

// ValidateTransition returns ErrInvalidTransition unless target is current or
// its immediate successor.
func ValidateTransition(current, target Stage) (Transition, error) {
	t := CheckTransition(current, target)
	if t == TransitionReject {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	return t, nil
}
