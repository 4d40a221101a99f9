package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/techscreen/internal/aigateway"
	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/store"
)

var errFakeAI = fmt.Errorf("fake: %w", domain.ErrAIServiceUnavailable)

// fakeGateway scripts AI responses and counts calls.
type fakeGateway struct {
	mu sync.Mutex

	chatCalls   int
	chatFailOn  map[int]bool // 1-based chat call numbers that fail
	chatReqs    []aigateway.ChatTurnRequest
	quizCalls   int
	codingCalls int
	reportCalls int
	reportErr   error
	reportDelay time.Duration
	onReport    func() // runs before the report is returned
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{chatFailOn: map[int]bool{}}
}

func (f *fakeGateway) ParseCV(_ context.Context, filename string, _ io.Reader) (*aigateway.CVParseResult, error) {
	return &aigateway.CVParseResult{Filename: filename, ContextToken: "cv-parsed", ChunkCount: 2, Summary: "parsed summary"}, nil
}

func (f *fakeGateway) GenerateChatTurn(_ context.Context, req aigateway.ChatTurnRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls++
	f.chatReqs = append(f.chatReqs, req)
	if f.chatFailOn[f.chatCalls] {
		return "", errFakeAI
	}
	return fmt.Sprintf("question %d", f.chatCalls), nil
}

func (f *fakeGateway) GenerateQuiz(_ context.Context, _, _ string, count int) ([]domain.QuizQuestion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quizCalls++
	questions := make([]domain.QuizQuestion, count)
	for i := range questions {
		questions[i] = domain.QuizQuestion{
			Question:      fmt.Sprintf("Q%d", i),
			Options:       []string{"a", "b"},
			CorrectAnswer: "a",
		}
	}
	return questions, nil
}

func (f *fakeGateway) GenerateCodingChallenge(_ context.Context, _, _, language string) (*domain.CodingChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codingCalls++
	return &domain.CodingChallenge{Title: "Reverse a list", Description: "Reverse it", Language: language}, nil
}

func (f *fakeGateway) GenerateReport(_ context.Context, _ aigateway.ReportRequest) (*aigateway.Report, error) {
	f.mu.Lock()
	f.reportCalls++
	delay, hook := f.reportDelay, f.onReport
	f.mu.Unlock()

	time.Sleep(delay)
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return &aigateway.Report{
		Evaluation: domain.Evaluation{TechnicalScore: 8, Summary: fmt.Sprintf("report %d", f.reportCalls)},
		ReportRef:  fmt.Sprintf("report_%d.pdf", f.reportCalls),
	}, nil
}

func (f *fakeGateway) counts() (chat, quiz, coding, report int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chatCalls, f.quizCalls, f.codingCalls, f.reportCalls
}

// recordingEmitter keeps every emitted event in order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEmitter) names() []domain.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]domain.EventName, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name)
	}
	return names
}

type fixture struct {
	repo      *store.SQLiteStore
	ai        *fakeGateway
	emitter   *recordingEmitter
	resolver  *Resolver
	stages    *StageController
	finalizer *Finalizer
	chat      *ChatOrchestrator
	sessions  *Sessions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "interview.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	ai := newFakeGateway()
	emitter := &recordingEmitter{}
	opts := Options{}
	resolver := NewResolver(repo)
	finalizer := NewFinalizer(repo, ai, nil)

	return &fixture{
		repo:      repo,
		ai:        ai,
		emitter:   emitter,
		resolver:  resolver,
		stages:    NewStageController(repo, resolver, ai, opts, nil),
		finalizer: finalizer,
		chat:      NewChatOrchestrator(repo, ai, finalizer, emitter, opts, nil),
		sessions:  NewSessions(repo, ai, finalizer, opts, nil),
	}
}

// seed creates a pending session reachable with token that expires in an hour.
func (f *fixture) seed(t *testing.T, id, token string) *domain.Session {
	t.Helper()
	now := time.Now()
	expires := now.Add(time.Hour)
	session := &domain.Session{
		ID:            id,
		TenantID:      "tenant-1",
		CandidateName: "Ada",
		CVSummary:     "Backend engineer",
		ContextToken:  "cv-" + id,
		AccessToken:   &token,
		ExpiresAt:     &expires,
		Status:        domain.StatusPending,
		Stage:         domain.StageInit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.repo.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func (f *fixture) reload(t *testing.T, id string) *domain.Session {
	t.Helper()
	session, err := f.repo.GetSession(context.Background(), id)
	if err != nil || session == nil {
		t.Fatalf("GetSession(%s): %v", id, err)
	}
	return session
}

func indexOf(names []domain.EventName, name domain.EventName) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// capturingGateway records the last report request.
type capturingGateway struct {
	*fakeGateway
	req aigateway.ReportRequest
}

func (c *capturingGateway) GenerateReport(ctx context.Context, req aigateway.ReportRequest) (*aigateway.Report, error) {
	c.req = req
	return c.fakeGateway.GenerateReport(ctx, req)
}
