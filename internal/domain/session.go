// Package domain contains core domain types for the techscreen service.
package domain

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Role attributes a transcript turn to the candidate or the interviewer.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// QuizQuestion is a single generated multiple-choice question.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer,omitempty"`
	Topic         string   `json:"topic,omitempty"`
}

// Quiz holds the generated questions and the candidate's answers.
type Quiz struct {
	Questions []QuizQuestion    `json:"questions"`
	Answers   map[string]string `json:"answers,omitempty"`
}

// Submitted reports whether the candidate already answered.
func (q *Quiz) Submitted() bool {
	return q != nil && q.Answers != nil
}

// TestCase is an example input/expected pair attached to a challenge.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
}

// CodingChallenge is the generated coding exercise.
type CodingChallenge struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Language    string     `json:"language"`
	StarterCode string     `json:"starter_code,omitempty"`
	TestCases   []TestCase `json:"test_cases,omitempty"`
}

// Coding holds the challenge plus the latest submission.
type Coding struct {
	Challenge CodingChallenge `json:"challenge"`
	Solution  *string         `json:"solution,omitempty"`
	// Results is the client-reported execution summary, stored verbatim.
	Results json.RawMessage `json:"results,omitempty"`
}

// Evaluation is the structured report produced at finalization.
type Evaluation struct {
	TechnicalScore       float64  `json:"technical_score"`
	CommunicationScore   float64  `json:"communication_score"`
	ProblemSolvingScore  float64  `json:"problem_solving_score"`
	ExperienceMatchScore float64  `json:"experience_match_score"`
	Strengths            []string `json:"strengths"`
	Weaknesses           []string `json:"weaknesses"`
	Summary              string   `json:"summary"`
}

// Session is one candidate's assessment instance.
type Session struct {
	ID            string
	TenantID      string
	CandidateName string
	CVSummary     string
	ContextToken  string // AI service handle for the candidate's CV grounding
	ChunkCount    int
	AccessToken   *string
	ExpiresAt     *time.Time
	Status        Status
	Stage         Stage
	QuestionCount int
	Quiz          *Quiz
	Coding        *Coding
	Transcript    []Turn
	Evaluation    *Evaluation
	ReportRef     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// IsCompleted returns true once the session reached its terminal status.
func (s *Session) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// IsExpired reports whether token access is no longer valid at now.
// A session without an expiry never expires.
func (s *Session) IsExpired(now time.Time) bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// EffectiveStage folds the terminal status into the stage ordering.
func (s *Session) EffectiveStage() Stage {
	if s.IsCompleted() {
		return StageCompleted
	}
	return s.Stage
}
