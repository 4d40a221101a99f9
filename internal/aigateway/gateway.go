// Package aigateway is the client for the external AI service that parses CVs,
// conducts the chat interview and produces evaluation reports.
package aigateway

import (
	"context"
	"encoding/json"
	"io"

	"github.com/ashureev/techscreen/internal/domain"
)

// Gateway defines the operations the interview engine needs from the AI service.
// Every failure (transport, timeout, non-2xx, unusable payload) is reported as
// domain.ErrAIServiceUnavailable.
type Gateway interface {
	// ParseCV uploads a PDF and returns the grounding handle for later calls.
	ParseCV(ctx context.Context, filename string, file io.Reader) (*CVParseResult, error)

	// GenerateChatTurn produces the next interviewer message.
	GenerateChatTurn(ctx context.Context, req ChatTurnRequest) (string, error)

	// GenerateQuiz produces count multiple-choice questions grounded on the CV.
	GenerateQuiz(ctx context.Context, contextToken, summary string, count int) ([]domain.QuizQuestion, error)

	// GenerateCodingChallenge produces one coding exercise in language.
	GenerateCodingChallenge(ctx context.Context, contextToken, summary, language string) (*domain.CodingChallenge, error)

	// GenerateReport evaluates the full session and renders the report.
	GenerateReport(ctx context.Context, req ReportRequest) (*Report, error)
}

// CVParseResult is the AI service's view of an uploaded CV.
type CVParseResult struct {
	Filename     string   `json:"filename"`
	ContextToken string   `json:"cv_session_id"`
	ChunkCount   int      `json:"chunk_count"`
	Preview      []string `json:"preview"`
	Summary      string   `json:"summary"`
}

// HistoryEntry is a prior transcript turn as the AI service expects it.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatTurnRequest asks for the next interviewer message.
type ChatTurnRequest struct {
	ContextToken string         `json:"cv_session_id"`
	Message      string         `json:"message"`
	History      []HistoryEntry `json:"history"`
	IsInit       bool           `json:"is_init"`
	IsFinal      bool           `json:"is_final"`
}

// ReportRequest carries everything the evaluator needs.
type ReportRequest struct {
	CandidateName  string            `json:"candidate_name"`
	Transcript     []HistoryEntry    `json:"transcript"`
	ContextToken   string            `json:"cv_session_id"`
	QuizResults    map[string]string `json:"quiz_results,omitempty"`
	CodingSolution string            `json:"coding_solution,omitempty"`
	CodingResults  json.RawMessage   `json:"coding_results,omitempty"`
}

// Report is the evaluator's output.
type Report struct {
	Evaluation domain.Evaluation `json:"evaluation"`
	ReportRef  string            `json:"report_filename"`
}

// HistoryFromTranscript converts transcript turns into request history.
func HistoryFromTranscript(turns []domain.Turn) []HistoryEntry {
	history := make([]HistoryEntry, 0, len(turns))
	for _, t := range turns {
		history = append(history, HistoryEntry{Role: string(t.Role), Content: t.Content})
	}
	return history
}
