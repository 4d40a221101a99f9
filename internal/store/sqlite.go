package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const sessionColumns = `
	id, tenant_id, candidate_name, cv_summary, context_token, chunk_count,
	access_token, expires_at, status, stage, question_count,
	quiz_json, quiz_answers_json, coding_json, coding_solution, coding_results_json,
	evaluation_json, report_ref, created_at, updated_at, completed_at`

// NewSQLite creates a new SQLite-backed repository, applying migrations first.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	if err := Migrate(dbPath, "up"); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	// WAL for concurrent readers; immediate transactions take the write lock
	// up front so two turn appends cannot deadlock on lock upgrade.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (
		id, tenant_id, candidate_name, cv_summary, context_token, chunk_count,
		access_token, expires_at, status, stage, question_count, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

	var accessToken, expiresAt interface{}
	if session.AccessToken != nil {
		accessToken = *session.AccessToken
	}
	if session.ExpiresAt != nil {
		expiresAt = session.ExpiresAt.Unix()
	}
	status := session.Status
	if status == "" {
		status = domain.StatusPending
	}

	_, err := s.db.ExecContext(ctx, query,
		session.ID, session.TenantID, session.CandidateName, session.CVSummary,
		session.ContextToken, session.ChunkCount, accessToken, expiresAt,
		string(status), session.Stage.String(),
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	return shared.WrapSQLiteError("insert session", err)
}

// GetSession loads a session with its transcript.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return s.loadWithTranscript(ctx, row)
}

// GetSessionByToken loads a session by its access token.
func (s *SQLiteStore) GetSessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE access_token = ?`, token)
	return s.loadWithTranscript(ctx, row)
}

func (s *SQLiteStore) loadWithTranscript(ctx context.Context, row *sql.Row) (*domain.Session, error) {
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, shared.WrapSQLiteError("scan session", err)
	}

	turns, err := s.loadTranscript(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	session.Transcript = turns
	return session, nil
}

func (s *SQLiteStore) loadTranscript(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM turns WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, shared.WrapSQLiteError("query transcript", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	var turns []domain.Turn
	for rows.Next() {
		var role, content string
		var createdAt int64
		if err := rows.Scan(&role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turns = append(turns, domain.Turn{
			Role:      domain.Role(role),
			Content:   content,
			Timestamp: time.UnixMilli(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return turns, nil
}

// ListSessionsByTenant returns a tenant's sessions, newest first.
func (s *SQLiteStore) ListSessionsByTenant(ctx context.Context, tenantID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC`, tenantID)
	if err != nil {
		return nil, shared.WrapSQLiteError("query tenant sessions", err)
	}
	return collectSessions(rows)
}

// ListStalledSessions returns open sessions stuck at the question budget.
func (s *SQLiteStore) ListStalledSessions(ctx context.Context, budget int, idleFor time.Duration) ([]*domain.Session, error) {
	threshold := time.Now().Add(-idleFor).Unix()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE status != 'completed' AND question_count >= ? AND updated_at < ?
		ORDER BY updated_at ASC`, budget, threshold)
	if err != nil {
		return nil, shared.WrapSQLiteError("query stalled sessions", err)
	}
	return collectSessions(rows)
}

func collectSessions(rows *sql.Rows) ([]*domain.Session, error) {
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SetAccessToken replaces the invite token and its expiry.
func (s *SQLiteStore) SetAccessToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET access_token = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND status != 'completed'`,
		token, expiresAt.Unix(), time.Now().Unix(), id)
	if err != nil {
		return shared.WrapSQLiteError("update access token", err)
	}
	return s.expectOneRow(ctx, result, id, nil)
}

// UpdateStage compares-and-sets the session stage.
func (s *SQLiteStore) UpdateStage(ctx context.Context, id string, expected, target domain.Stage, activate bool) error {
	query := `UPDATE sessions SET stage = ?, updated_at = ?`
	if activate {
		query += `, status = CASE WHEN status = 'pending' THEN 'active' ELSE status END`
	}
	query += ` WHERE id = ? AND stage = ? AND status != 'completed'`

	result, err := s.db.ExecContext(ctx, query, target.String(), time.Now().Unix(), id, expected.String())
	if err != nil {
		return shared.WrapSQLiteError("update stage", err)
	}
	return s.expectOneRow(ctx, result, id, func(current *domain.Session) error {
		return fmt.Errorf("stage changed to %s (expected %s): %w", current.Stage, expected, domain.ErrPersistenceConflict)
	})
}

// SetQuizIfAbsent stores generated questions unless a quiz already exists.
func (s *SQLiteStore) SetQuizIfAbsent(ctx context.Context, id string, questions []domain.QuizQuestion) (bool, error) {
	data, err := json.Marshal(questions)
	if err != nil {
		return false, fmt.Errorf("marshal quiz: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET quiz_json = ?, updated_at = ?
		WHERE id = ? AND quiz_json IS NULL AND status != 'completed'`,
		string(data), time.Now().Unix(), id)
	if err != nil {
		return false, shared.WrapSQLiteError("set quiz", err)
	}
	return s.setIfAbsentResult(ctx, result, id)
}

// SetCodingIfAbsent stores a generated challenge unless one already exists.
func (s *SQLiteStore) SetCodingIfAbsent(ctx context.Context, id string, challenge domain.CodingChallenge) (bool, error) {
	data, err := json.Marshal(challenge)
	if err != nil {
		return false, fmt.Errorf("marshal coding challenge: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET coding_json = ?, updated_at = ?
		WHERE id = ? AND coding_json IS NULL AND status != 'completed'`,
		string(data), time.Now().Unix(), id)
	if err != nil {
		return false, shared.WrapSQLiteError("set coding challenge", err)
	}
	return s.setIfAbsentResult(ctx, result, id)
}

func (s *SQLiteStore) setIfAbsentResult(ctx context.Context, result sql.Result, id string) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}
	// Either the session is gone/completed, or the artifact already exists.
	err = s.classifyMiss(ctx, id, func(*domain.Session) error { return nil })
	return false, err
}

// SubmitQuizAnswers records the candidate's answers once.
func (s *SQLiteStore) SubmitQuizAnswers(ctx context.Context, id string, answers map[string]string) error {
	if answers == nil {
		answers = map[string]string{}
	}
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal quiz answers: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET quiz_answers_json = ?, updated_at = ?
		WHERE id = ? AND status != 'completed' AND quiz_json IS NOT NULL AND quiz_answers_json IS NULL`,
		string(data), time.Now().Unix(), id)
	if err != nil {
		return shared.WrapSQLiteError("submit quiz answers", err)
	}
	return s.expectOneRow(ctx, result, id, func(current *domain.Session) error {
		if current.Quiz == nil {
			return fmt.Errorf("quiz not generated: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("quiz answers: %w", domain.ErrAlreadySubmitted)
	})
}

// SubmitCoding records (or overwrites) the solution and execution summary.
func (s *SQLiteStore) SubmitCoding(ctx context.Context, id, solution string, results json.RawMessage) error {
	var resultsArg interface{}
	if len(results) > 0 {
		resultsArg = string(results)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET coding_solution = ?, coding_results_json = ?, updated_at = ?
		WHERE id = ? AND status != 'completed' AND coding_json IS NOT NULL`,
		solution, resultsArg, time.Now().Unix(), id)
	if err != nil {
		return shared.WrapSQLiteError("submit coding", err)
	}
	return s.expectOneRow(ctx, result, id, func(*domain.Session) error {
		return fmt.Errorf("coding challenge not generated: %w", domain.ErrNotFound)
	})
}

// AppendCandidateTurn increments the counter and appends a user turn in one transaction.
func (s *SQLiteStore) AppendCandidateTurn(ctx context.Context, id, content string, budget int) (int, error) {
	var count int
	err := s.withTx(ctx, "append candidate turn", func(tx *sql.Tx) error {
		now := time.Now()
		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET
				question_count = question_count + 1,
				status = CASE WHEN status = 'pending' THEN 'active' ELSE status END,
				updated_at = ?
			WHERE id = ? AND status != 'completed' AND question_count < ?`,
			now.Unix(), id, budget)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return s.classifyMissTx(ctx, tx, id, func(*domain.Session) error {
				return fmt.Errorf("budget %d: %w", budget, domain.ErrBudgetReached)
			})
		}

		if err := insertTurn(ctx, tx, id, domain.RoleUser, content, now); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT question_count FROM sessions WHERE id = ?`, id).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AppendAssistantTurn appends an interviewer turn to an open session.
func (s *SQLiteStore) AppendAssistantTurn(ctx context.Context, id, content string) error {
	return s.withTx(ctx, "append assistant turn", func(tx *sql.Tx) error {
		now := time.Now()
		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ? WHERE id = ? AND status != 'completed'`,
			now.Unix(), id)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return s.classifyMissTx(ctx, tx, id, nil)
		}
		return insertTurn(ctx, tx, id, domain.RoleAssistant, content, now)
	})
}

// errTranscriptNotEmpty aborts the opening-turn transaction without surfacing an error.
var errTranscriptNotEmpty = errors.New("transcript not empty")

// AppendOpeningTurn appends the first interviewer turn if the transcript is still empty.
func (s *SQLiteStore) AppendOpeningTurn(ctx context.Context, id, content string) (bool, error) {
	err := s.withTx(ctx, "append opening turn", func(tx *sql.Tx) error {
		now := time.Now()
		result, err := tx.ExecContext(ctx,
			`UPDATE sessions SET updated_at = ?
			WHERE id = ? AND status != 'completed'
			AND NOT EXISTS (SELECT 1 FROM turns WHERE session_id = ?)`,
			now.Unix(), id, id)
		if err != nil {
			return err
		}
		if rows, err := result.RowsAffected(); err != nil {
			return err
		} else if rows == 0 {
			return s.classifyMissTx(ctx, tx, id, func(*domain.Session) error {
				return errTranscriptNotEmpty
			})
		}
		return insertTurn(ctx, tx, id, domain.RoleAssistant, content, now)
	})
	if errors.Is(err, errTranscriptNotEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ClaimFinalization sets finalizing_until unless an unexpired lease exists.
func (s *SQLiteStore) ClaimFinalization(ctx context.Context, id string, lease time.Duration) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET finalizing_until = ?
		WHERE id = ? AND status != 'completed'
			AND (finalizing_until IS NULL OR finalizing_until < ?)`,
		now.Add(lease).UnixMilli(), id, now.UnixMilli())
	if err != nil {
		return shared.WrapSQLiteError("claim finalization", err)
	}
	return s.expectOneRow(ctx, result, id, func(*domain.Session) error {
		return fmt.Errorf("session %s: %w", id, domain.ErrFinalizationInProgress)
	})
}

// ReleaseFinalization clears the lease. Releasing an unleased or completed
// session is a no-op.
func (s *SQLiteStore) ReleaseFinalization(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET finalizing_until = NULL WHERE id = ?`, id)
	if err != nil {
		return shared.WrapSQLiteError("release finalization", err)
	}
	return nil
}

// CompleteSession writes the evaluation and completes the session in one statement.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, evaluation *domain.Evaluation, reportRef string) error {
	data, err := json.Marshal(evaluation)
	if err != nil {
		return fmt.Errorf("marshal evaluation: %w", err)
	}
	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'completed', evaluation_json = ?, report_ref = ?,
			completed_at = ?, updated_at = ?, finalizing_until = NULL
		WHERE id = ? AND status != 'completed'`,
		string(data), reportRef, now, now, id)
	if err != nil {
		return shared.WrapSQLiteError("complete session", err)
	}
	return s.expectOneRow(ctx, result, id, nil)
}

func insertTurn(ctx context.Context, tx *sql.Tx, sessionID string, role domain.Role, content string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, at.UnixMilli())
	return err
}

// withTx runs fn in one transaction. Domain errors returned by fn pass through
// unchanged; driver errors are wrapped (busy/locked become ErrPersistenceConflict).
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return shared.WrapSQLiteError(op+": begin", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back transaction", "op", op, "error", rbErr)
		}
		if isDomainError(err) {
			return err
		}
		return shared.WrapSQLiteError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return shared.WrapSQLiteError(op+": commit", err)
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrAlreadyCompleted, domain.ErrBudgetReached,
		domain.ErrAlreadySubmitted, domain.ErrPersistenceConflict, errTranscriptNotEmpty,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// expectOneRow checks a conditional update hit its row and otherwise explains why.
// onOpen is consulted when the session exists and is not completed; nil means conflict.
func (s *SQLiteStore) expectOneRow(ctx context.Context, result sql.Result, id string, onOpen func(*domain.Session) error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}
	return s.classifyMiss(ctx, id, onOpen)
}

func (s *SQLiteStore) classifyMiss(ctx context.Context, id string, onOpen func(*domain.Session) error) error {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return classify(row, id, onOpen)
}

func (s *SQLiteStore) classifyMissTx(ctx context.Context, tx *sql.Tx, id string, onOpen func(*domain.Session) error) error {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return classify(row, id, onOpen)
}

func classify(row *sql.Row, id string, onOpen func(*domain.Session) error) error {
	current, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return shared.WrapSQLiteError("reload session", err)
	}
	if current.IsCompleted() {
		return fmt.Errorf("session %s: %w", id, domain.ErrAlreadyCompleted)
	}
	if onOpen == nil {
		return fmt.Errorf("session %s: %w", id, domain.ErrPersistenceConflict)
	}
	return onOpen(current)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var accessToken, quizJSON, answersJSON, codingJSON, solution, resultsJSON, evaluationJSON, reportRef sql.NullString
	var expiresAt, completedAt sql.NullInt64
	var status, stage string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.ID, &session.TenantID, &session.CandidateName, &session.CVSummary,
		&session.ContextToken, &session.ChunkCount,
		&accessToken, &expiresAt, &status, &stage, &session.QuestionCount,
		&quizJSON, &answersJSON, &codingJSON, &solution, &resultsJSON,
		&evaluationJSON, &reportRef, &createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = domain.Status(status)
	if session.Stage, err = domain.ParseStage(stage); err != nil {
		return nil, err
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	session.ReportRef = reportRef.String

	if accessToken.Valid {
		session.AccessToken = &accessToken.String
	}
	if expiresAt.Valid {
		ts := time.Unix(expiresAt.Int64, 0)
		session.ExpiresAt = &ts
	}
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		session.CompletedAt = &ts
	}

	if quizJSON.Valid {
		quiz := &domain.Quiz{}
		if err := json.Unmarshal([]byte(quizJSON.String), &quiz.Questions); err != nil {
			return nil, fmt.Errorf("decode quiz: %w", err)
		}
		if answersJSON.Valid {
			quiz.Answers = map[string]string{}
			if err := json.Unmarshal([]byte(answersJSON.String), &quiz.Answers); err != nil {
				return nil, fmt.Errorf("decode quiz answers: %w", err)
			}
		}
		session.Quiz = quiz
	}

	if codingJSON.Valid {
		coding := &domain.Coding{}
		if err := json.Unmarshal([]byte(codingJSON.String), &coding.Challenge); err != nil {
			return nil, fmt.Errorf("decode coding challenge: %w", err)
		}
		if solution.Valid {
			coding.Solution = &solution.String
		}
		if resultsJSON.Valid {
			coding.Results = json.RawMessage(resultsJSON.String)
		}
		session.Coding = coding
	}

	if evaluationJSON.Valid {
		session.Evaluation = &domain.Evaluation{}
		if err := json.Unmarshal([]byte(evaluationJSON.String), session.Evaluation); err != nil {
			return nil, fmt.Errorf("decode evaluation: %w", err)
		}
	}

	return &session, nil
}

var _ Repository = (*SQLiteStore)(nil)
