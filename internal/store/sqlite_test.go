package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *SQLiteStore, id, token string) *domain.Session {
	t.Helper()
	now := time.Now()
	expires := now.Add(time.Hour)
	session := &domain.Session{
		ID:            id,
		TenantID:      "tenant-1",
		CandidateName: "Ada",
		CVSummary:     "Go developer, 5 years",
		ContextToken:  "ctx-" + id,
		ChunkCount:    3,
		AccessToken:   &token,
		ExpiresAt:     &expires,
		Status:        domain.StatusPending,
		Stage:         domain.StageInit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.CandidateName != "Ada" || got.ChunkCount != 3 || got.Stage != domain.StageInit {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.AccessToken == nil || *got.AccessToken != "tok-1" {
		t.Errorf("expected access token tok-1, got %v", got.AccessToken)
	}

	byToken, err := s.GetSessionByToken(ctx, "tok-1")
	if err != nil || byToken == nil || byToken.ID != "s1" {
		t.Fatalf("GetSessionByToken: %v %+v", err, byToken)
	}

	missing, err := s.GetSession(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing session; got %v, %v", missing, err)
	}
}

func TestAppendCandidateTurnEnforcesBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	for i := 1; i <= 3; i++ {
		count, err := s.AppendCandidateTurn(ctx, "s1", "answer", 3)
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if count != i {
			t.Errorf("turn %d: expected count %d, got %d", i, i, count)
		}
	}

	if _, err := s.AppendCandidateTurn(ctx, "s1", "one more", 3); !errors.Is(err, domain.ErrBudgetReached) {
		t.Fatalf("expected ErrBudgetReached, got %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.QuestionCount != 3 {
		t.Errorf("expected question_count 3, got %d", got.QuestionCount)
	}
	if len(got.Transcript) != 3 {
		t.Errorf("expected 3 transcript entries, got %d", len(got.Transcript))
	}
	if got.Status != domain.StatusActive {
		t.Errorf("expected status active after first turn, got %s", got.Status)
	}
}

func TestConcurrentCandidateTurnsNeverExceedBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AppendCandidateTurn(ctx, "s1", "answer", 3)
		}()
	}
	wg.Wait()

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.QuestionCount > 3 {
		t.Errorf("question_count exceeded budget: %d", got.QuestionCount)
	}
	if len(got.Transcript) != got.QuestionCount {
		t.Errorf("transcript (%d) and counter (%d) diverged", len(got.Transcript), got.QuestionCount)
	}
}

func TestTranscriptOrderAndRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	if _, err := s.AppendCandidateTurn(ctx, "s1", "hello", 3); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendAssistantTurn(ctx, "s1", "tell me about Go"); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if len(got.Transcript) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(got.Transcript))
	}
	if got.Transcript[0].Role != domain.RoleUser || got.Transcript[1].Role != domain.RoleAssistant {
		t.Errorf("unexpected roles: %+v", got.Transcript)
	}
}

func TestAppendOpeningTurnOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	ok, err := s.AppendOpeningTurn(ctx, "s1", "Welcome")
	if err != nil || !ok {
		t.Fatalf("first opening turn: ok=%v err=%v", ok, err)
	}
	ok, err = s.AppendOpeningTurn(ctx, "s1", "Welcome again")
	if err != nil {
		t.Fatalf("second opening turn: %v", err)
	}
	if ok {
		t.Error("second opening turn should be skipped")
	}

	got, _ := s.GetSession(ctx, "s1")
	if len(got.Transcript) != 1 {
		t.Errorf("expected 1 turn, got %d", len(got.Transcript))
	}
}

func TestUpdateStageCompareAndSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	if err := s.UpdateStage(ctx, "s1", domain.StageInit, domain.StageQuiz, true); err != nil {
		t.Fatalf("UpdateStage: %v", err)
	}
	err := s.UpdateStage(ctx, "s1", domain.StageInit, domain.StageQuiz, true)
	if !errors.Is(err, domain.ErrPersistenceConflict) {
		t.Errorf("expected conflict on stale expected stage, got %v", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Stage != domain.StageQuiz || got.Status != domain.StatusActive {
		t.Errorf("expected quiz/active, got %s/%s", got.Stage, got.Status)
	}

	if err := s.UpdateStage(ctx, "missing", domain.StageInit, domain.StageQuiz, false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetQuizIfAbsentKeepsFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	first := []domain.QuizQuestion{{Question: "Q1", Options: []string{"a", "b"}, CorrectAnswer: "a"}}
	second := []domain.QuizQuestion{{Question: "Other", Options: []string{"x"}, CorrectAnswer: "x"}}

	stored, err := s.SetQuizIfAbsent(ctx, "s1", first)
	if err != nil || !stored {
		t.Fatalf("first set: stored=%v err=%v", stored, err)
	}
	stored, err = s.SetQuizIfAbsent(ctx, "s1", second)
	if err != nil || stored {
		t.Fatalf("second set: stored=%v err=%v", stored, err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Quiz == nil || len(got.Quiz.Questions) != 1 || got.Quiz.Questions[0].Question != "Q1" {
		t.Errorf("expected first quiz to stick, got %+v", got.Quiz)
	}
}

func TestSubmitQuizAnswersOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	if err := s.SubmitQuizAnswers(ctx, "s1", map[string]string{"0": "a"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before quiz exists, got %v", err)
	}

	if _, err := s.SetQuizIfAbsent(ctx, "s1", []domain.QuizQuestion{{Question: "Q1"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SubmitQuizAnswers(ctx, "s1", map[string]string{"0": "a"}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := s.SubmitQuizAnswers(ctx, "s1", map[string]string{"0": "b"}); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if !got.Quiz.Submitted() || got.Quiz.Answers["0"] != "a" {
		t.Errorf("expected first answers to stick, got %+v", got.Quiz.Answers)
	}
}

func TestCodingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	challenge := domain.CodingChallenge{Title: "FizzBuzz", Language: "python", StarterCode: "def f(): pass"}
	if _, err := s.SetCodingIfAbsent(ctx, "s1", challenge); err != nil {
		t.Fatal(err)
	}
	results := json.RawMessage(`{"passed":2,"total":3}`)
	if err := s.SubmitCoding(ctx, "s1", "def f(): return 1", results); err != nil {
		t.Fatalf("SubmitCoding: %v", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if got.Coding == nil || got.Coding.Challenge.Title != "FizzBuzz" {
		t.Fatalf("unexpected coding: %+v", got.Coding)
	}
	if got.Coding.Solution == nil || *got.Coding.Solution != "def f(): return 1" {
		t.Errorf("unexpected solution: %v", got.Coding.Solution)
	}
	if string(got.Coding.Results) != string(results) {
		t.Errorf("unexpected results: %s", got.Coding.Results)
	}
}

func TestCompleteSessionExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	eval := &domain.Evaluation{TechnicalScore: 8, Summary: "solid"}
	if err := s.CompleteSession(ctx, "s1", eval, "report-1.pdf"); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	if err := s.CompleteSession(ctx, "s1", &domain.Evaluation{Summary: "second"}, "report-2.pdf"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	got, _ := s.GetSession(ctx, "s1")
	if !got.IsCompleted() || got.CompletedAt == nil {
		t.Errorf("expected completed session, got %+v", got)
	}
	if got.Evaluation == nil || got.Evaluation.Summary != "solid" || got.ReportRef != "report-1.pdf" {
		t.Errorf("expected first evaluation to stick, got %+v / %s", got.Evaluation, got.ReportRef)
	}

	if _, err := s.AppendCandidateTurn(ctx, "s1", "late", 3); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted on late turn, got %v", err)
	}
	if err := s.AppendAssistantTurn(ctx, "s1", "late"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted on late assistant turn, got %v", err)
	}
}

func TestClaimFinalizationLease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	if err := s.ClaimFinalization(ctx, "s1", time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.ClaimFinalization(ctx, "s1", time.Minute); !errors.Is(err, domain.ErrFinalizationInProgress) {
		t.Fatalf("expected ErrFinalizationInProgress while leased, got %v", err)
	}

	if err := s.ReleaseFinalization(ctx, "s1"); err != nil {
		t.Fatalf("ReleaseFinalization: %v", err)
	}
	if err := s.ClaimFinalization(ctx, "s1", -time.Second); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	// An expired lease can be taken over.
	if err := s.ClaimFinalization(ctx, "s1", time.Minute); err != nil {
		t.Fatalf("claim over expired lease: %v", err)
	}

	if err := s.CompleteSession(ctx, "s1", &domain.Evaluation{Summary: "done"}, "r.pdf"); err != nil {
		t.Fatalf("CompleteSession under lease: %v", err)
	}
	if err := s.ClaimFinalization(ctx, "s1", time.Minute); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted after completion, got %v", err)
	}
	if err := s.ClaimFinalization(ctx, "missing", time.Minute); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestConcurrentClaimFinalizationHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	const claimers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.ClaimFinalization(ctx, "s1", time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrFinalizationInProgress), errors.Is(err, domain.ErrPersistenceConflict):
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one lease holder, got %d", wins)
	}
}

func TestListSessionsByTenantAndStalled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")
	seedSession(t, s, "s2", "tok-2")

	list, err := s.ListSessionsByTenant(ctx, "tenant-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	if list[0].ID != "s2" {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.AppendCandidateTurn(ctx, "s1", "a", 2); err != nil {
			t.Fatal(err)
		}
	}

	stalled, err := s.ListStalledSessions(ctx, 2, -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stalled) != 1 || stalled[0].ID != "s1" {
		t.Errorf("expected only s1 stalled, got %+v", stalled)
	}
}

func TestSetAccessTokenReplacesToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedSession(t, s, "s1", "tok-1")

	expires := time.Now().Add(2 * time.Hour)
	if err := s.SetAccessToken(ctx, "s1", "tok-new", expires); err != nil {
		t.Fatal(err)
	}
	if old, _ := s.GetSessionByToken(ctx, "tok-1"); old != nil {
		t.Error("old token should no longer resolve")
	}
	got, _ := s.GetSessionByToken(ctx, "tok-new")
	if got == nil || got.ExpiresAt.Unix() != expires.Unix() {
		t.Errorf("unexpected session for new token: %+v", got)
	}
}
