package api

import (
	"encoding/json"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

// candidateQuestion is a quiz question without its answer key.
type candidateQuestion struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Topic    string   `json:"topic,omitempty"`
}

type candidateQuiz struct {
	Questions []candidateQuestion `json:"questions"`
	Submitted bool                `json:"submitted"`
}

type candidateSession struct {
	SessionID     string         `json:"session_id"`
	CandidateName string         `json:"candidate_name"`
	Status        domain.Status  `json:"status"`
	Stage         string         `json:"stage"`
	QuestionCount int            `json:"question_count"`
	Transcript    []domain.Turn  `json:"transcript"`
	Quiz          *candidateQuiz `json:"quiz,omitempty"`
	Coding        *domain.Coding `json:"coding,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

func redactQuiz(q *domain.Quiz) *candidateQuiz {
	if q == nil {
		return nil
	}
	out := &candidateQuiz{
		Questions: make([]candidateQuestion, len(q.Questions)),
		Submitted: q.Submitted(),
	}
	for i, question := range q.Questions {
		out.Questions[i] = candidateQuestion{
			Question: question.Question,
			Options:  question.Options,
			Topic:    question.Topic,
		}
	}
	return out
}

func candidateView(s *domain.Session) candidateSession {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []domain.Turn{}
	}
	return candidateSession{
		SessionID:     s.ID,
		CandidateName: s.CandidateName,
		Status:        s.Status,
		Stage:         s.EffectiveStage().String(),
		QuestionCount: s.QuestionCount,
		Transcript:    transcript,
		Quiz:          redactQuiz(s.Quiz),
		Coding:        s.Coding,
		ExpiresAt:     s.ExpiresAt,
	}
}

type sessionSummary struct {
	SessionID     string        `json:"session_id"`
	CandidateName string        `json:"candidate_name"`
	Status        domain.Status `json:"status"`
	Stage         string        `json:"stage"`
	QuestionCount int           `json:"question_count"`
	Invited       bool          `json:"invited"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

type sessionDetail struct {
	sessionSummary
	CVSummary    string             `json:"cv_summary"`
	ContextToken string             `json:"cv_session_id"`
	ChunkCount   int                `json:"chunk_count"`
	Transcript   []domain.Turn      `json:"transcript"`
	Quiz         *domain.Quiz       `json:"quiz,omitempty"`
	Coding       *domain.Coding     `json:"coding,omitempty"`
	Evaluation   *domain.Evaluation `json:"evaluation,omitempty"`
	ReportRef    string             `json:"report_filename,omitempty"`
}

func summaryView(s *domain.Session) sessionSummary {
	return sessionSummary{
		SessionID:     s.ID,
		CandidateName: s.CandidateName,
		Status:        s.Status,
		Stage:         s.EffectiveStage().String(),
		QuestionCount: s.QuestionCount,
		Invited:       s.AccessToken != nil,
		ExpiresAt:     s.ExpiresAt,
		CreatedAt:     s.CreatedAt,
		CompletedAt:   s.CompletedAt,
	}
}

func detailView(s *domain.Session) sessionDetail {
	transcript := s.Transcript
	if transcript == nil {
		transcript = []domain.Turn{}
	}
	return sessionDetail{
		sessionSummary: summaryView(s),
		CVSummary:      s.CVSummary,
		ContextToken:   s.ContextToken,
		ChunkCount:     s.ChunkCount,
		Transcript:     transcript,
		Quiz:           s.Quiz,
		Coding:         s.Coding,
		Evaluation:     s.Evaluation,
		ReportRef:      s.ReportRef,
	}
}

// codingSubmission is the candidate's coding submit body.
type codingSubmission struct {
	Solution string          `json:"solution"`
	Results  json.RawMessage `json:"results,omitempty"`
}
