// Package knowledge is the durable persistence layer: a SQLite database
// holding execution patterns, failures, conflict patterns, recovery
// strategies, and calibration points across process lifetimes. The
// engine functions without it; every lookup degrades to "no history"
// when the store is unavailable.
package knowledge

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/helmsman/internal/filelock"
	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/retry"
)

//go:embed schema.sql
var schemaSQL string

// Store manages the SQLite knowledge database.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the database at dbPath and initializes
// the schema. Initialization is serialized across processes with a
// sibling lock file.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		lock := filelock.New(dbPath + ".lock")
		if err := lock.Lock(); err != nil {
			return nil, err
		}
		defer lock.Unlock()
	}
	return openAndInit(dbPath)
}

func openAndInit(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so the remaining pragmas wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// execWithRetry retries a statement with doubling backoff on
// "database is locked" errors, which occur during concurrent
// initialization of the same file.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SavePattern upserts an execution pattern.
func (s *Store) SavePattern(ctx context.Context, p *models.ExecutionPattern) error {
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	agents, err := json.Marshal(p.AgentsUsed)
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	results, err := json.Marshal(p.AgentResults)
	if err != nil {
		return fmt.Errorf("marshal agent results: %w", err)
	}
	conflicts, err := json.Marshal(p.Conflicts)
	if err != nil {
		return fmt.Errorf("marshal conflicts: %w", err)
	}
	gaps, err := json.Marshal(p.Gaps)
	if err != nil {
		return fmt.Errorf("marshal gaps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO execution_patterns
		(id, objective, objective_type, project_type, tags, agents_used, agent_results, conflicts, gaps,
		 success, duration_ms, tokens_used, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_results = excluded.agent_results,
			conflicts = excluded.conflicts,
			gaps = excluded.gaps,
			success = excluded.success,
			duration_ms = excluded.duration_ms,
			tokens_used = excluded.tokens_used`,
		p.ID, p.Objective, p.ObjectiveType, p.ProjectType, string(tags), string(agents),
		string(results), string(conflicts), string(gaps),
		boolInt(p.Success), p.Duration.Milliseconds(), p.TokensUsed, formatTime(p.Timestamp))
	if err != nil {
		return fmt.Errorf("insert execution pattern: %w", err)
	}
	return nil
}

// LoadPatterns returns patterns recorded at or after since, oldest
// first.
func (s *Store) LoadPatterns(ctx context.Context, since time.Time) ([]*models.ExecutionPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, objective, objective_type, project_type, tags,
		agents_used, agent_results, conflicts, gaps, success, duration_ms, tokens_used, recorded_at
		FROM execution_patterns WHERE recorded_at >= ? ORDER BY recorded_at ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionPattern
	for rows.Next() {
		p := &models.ExecutionPattern{}
		var tags, agents, results, conflicts, gaps, recordedAt string
		var success int
		var durationMs int64
		if err := rows.Scan(&p.ID, &p.Objective, &p.ObjectiveType, &p.ProjectType, &tags,
			&agents, &results, &conflicts, &gaps, &success, &durationMs, &p.TokensUsed, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.Success = success != 0
		p.Duration = time.Duration(durationMs) * time.Millisecond
		p.Timestamp = parseTime(recordedAt)
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(agents), &p.AgentsUsed); err != nil {
			return nil, fmt.Errorf("unmarshal agents for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(results), &p.AgentResults); err != nil {
			return nil, fmt.Errorf("unmarshal agent results for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(conflicts), &p.Conflicts); err != nil {
			return nil, fmt.Errorf("unmarshal conflicts for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(gaps), &p.Gaps); err != nil {
			return nil, fmt.Errorf("unmarshal gaps for %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveFailure upserts a failure context.
func (s *Store) SaveFailure(ctx context.Context, fc *models.FailureContext) error {
	tags, err := json.Marshal(fc.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	preceding, err := json.Marshal(fc.PrecedingAgents)
	if err != nil {
		return fmt.Errorf("marshal preceding agents: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO failure_contexts
		(id, agent_id, error_text, category, objective_type, tags, preceding_agents,
		 avoidance_rule, suggested_fix, confidence, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fc.ID, fc.AgentID, fc.ErrorText, string(fc.Category), fc.ObjectiveType, string(tags),
		string(preceding), fc.AvoidanceRule, fc.SuggestedFix, fc.Confidence, formatTime(fc.Timestamp))
	if err != nil {
		return fmt.Errorf("insert failure context: %w", err)
	}
	return nil
}

// LoadFailures returns failures recorded at or after since, oldest
// first.
func (s *Store) LoadFailures(ctx context.Context, since time.Time) ([]*models.FailureContext, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, agent_id, error_text, category, objective_type,
		tags, preceding_agents, avoidance_rule, suggested_fix, confidence, recorded_at
		FROM failure_contexts WHERE recorded_at >= ? ORDER BY recorded_at ASC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []*models.FailureContext
	for rows.Next() {
		fc := &models.FailureContext{}
		var category, tags, preceding, recordedAt string
		if err := rows.Scan(&fc.ID, &fc.AgentID, &fc.ErrorText, &category, &fc.ObjectiveType,
			&tags, &preceding, &fc.AvoidanceRule, &fc.SuggestedFix, &fc.Confidence, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		fc.Category = models.ErrorCategory(category)
		fc.Timestamp = parseTime(recordedAt)
		if err := json.Unmarshal([]byte(tags), &fc.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags for %s: %w", fc.ID, err)
		}
		if err := json.Unmarshal([]byte(preceding), &fc.PrecedingAgents); err != nil {
			return nil, fmt.Errorf("unmarshal preceding agents for %s: %w", fc.ID, err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// SaveConflict upserts a learned conflict pattern keyed by its pair.
func (s *Store) SaveConflict(ctx context.Context, cp models.ConflictPattern) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO conflict_patterns
		(pair_key, agent_a, agent_b, type, probability, observations, last_observed,
		 a_first_success_rate, a_first_samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		models.PairKey(cp.AgentA, cp.AgentB), cp.AgentA, cp.AgentB, string(cp.Type),
		cp.Probability, cp.Observations, formatTime(cp.LastObserved),
		cp.AFirstSuccessRate, cp.AFirstSamples)
	if err != nil {
		return fmt.Errorf("insert conflict pattern: %w", err)
	}
	return nil
}

// LoadConflicts returns every persisted conflict pattern.
func (s *Store) LoadConflicts(ctx context.Context) ([]models.ConflictPattern, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_a, agent_b, type, probability, observations,
		last_observed, a_first_success_rate, a_first_samples FROM conflict_patterns`)
	if err != nil {
		return nil, fmt.Errorf("query conflict patterns: %w", err)
	}
	defer rows.Close()

	var out []models.ConflictPattern
	for rows.Next() {
		var cp models.ConflictPattern
		var typ, lastObserved string
		if err := rows.Scan(&cp.AgentA, &cp.AgentB, &typ, &cp.Probability, &cp.Observations,
			&lastObserved, &cp.AFirstSuccessRate, &cp.AFirstSamples); err != nil {
			return nil, fmt.Errorf("scan conflict pattern: %w", err)
		}
		cp.Type = models.ConflictType(typ)
		cp.LastObserved = parseTime(lastObserved)
		out = append(out, cp)
	}
	return out, rows.Err()
}

// SaveRecoveryStrategy upserts a learned recovery strategy.
func (s *Store) SaveRecoveryStrategy(ctx context.Context, rs models.RecoveryStrategy) error {
	replacements, err := json.Marshal(rs.Replacements)
	if err != nil {
		return fmt.Errorf("marshal replacements: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO recovery_strategies
		(failed_agent, category, kind, replacements, confidence, reasoning, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rs.FailedAgent, string(rs.Category), string(rs.Kind), string(replacements),
		rs.Confidence, rs.Reasoning, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert recovery strategy: %w", err)
	}
	return nil
}

// LoadRecoveryStrategies returns every persisted recovery strategy.
func (s *Store) LoadRecoveryStrategies(ctx context.Context) ([]models.RecoveryStrategy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT failed_agent, category, kind, replacements,
		confidence, reasoning FROM recovery_strategies`)
	if err != nil {
		return nil, fmt.Errorf("query recovery strategies: %w", err)
	}
	defer rows.Close()

	var out []models.RecoveryStrategy
	for rows.Next() {
		var rs models.RecoveryStrategy
		var category, kind, replacements string
		if err := rows.Scan(&rs.FailedAgent, &category, &kind, &replacements,
			&rs.Confidence, &rs.Reasoning); err != nil {
			return nil, fmt.Errorf("scan recovery strategy: %w", err)
		}
		rs.Category = models.ErrorCategory(category)
		rs.Kind = models.StrategyKind(kind)
		if err := json.Unmarshal([]byte(replacements), &rs.Replacements); err != nil {
			return nil, fmt.Errorf("unmarshal replacements for %s: %w", rs.FailedAgent, err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// SaveCalibrationPoint appends one predicted-vs-actual observation.
func (s *Store) SaveCalibrationPoint(ctx context.Context, predicted float64, success bool) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO calibration_points (predicted, success, recorded_at)
		VALUES (?, ?, ?)`, predicted, boolInt(success), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert calibration point: %w", err)
	}
	return nil
}

// CalibrationPoint is one persisted predicted-vs-actual observation.
type CalibrationPoint struct {
	Predicted float64
	Success   bool
}

// LoadCalibrationPoints returns the most recent limit points, oldest
// first.
func (s *Store) LoadCalibrationPoints(ctx context.Context, limit int) ([]CalibrationPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT predicted, success FROM
		(SELECT id, predicted, success FROM calibration_points ORDER BY id DESC LIMIT ?)
		ORDER BY id ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calibration points: %w", err)
	}
	defer rows.Close()

	var out []CalibrationPoint
	for rows.Next() {
		var p CalibrationPoint
		var success int
		if err := rows.Scan(&p.Predicted, &success); err != nil {
			return nil, fmt.Errorf("scan calibration point: %w", err)
		}
		p.Success = success != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveFallbackChain records a failed-agents-to-success chain.
func (s *Store) SaveFallbackChain(ctx context.Context, taskID, objectiveType string, failed []string, successAgent string) error {
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("marshal failed agents: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO fallback_chains
		(task_id, objective_type, failed_agents, success_agent, recorded_at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, objectiveType, string(failedJSON), successAgent, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert fallback chain: %w", err)
	}
	return nil
}

// Persist implements retry.Sink, dispatching records to their tables by
// payload type.
func (s *Store) Persist(ctx context.Context, rec retry.Record) error {
	switch v := rec.Payload.(type) {
	case *models.ExecutionPattern:
		return s.SavePattern(ctx, v)
	case *models.FailureContext:
		return s.SaveFailure(ctx, v)
	case models.ConflictPattern:
		return s.SaveConflict(ctx, v)
	case models.RecoveryStrategy:
		return s.SaveRecoveryStrategy(ctx, v)
	case CalibrationPoint:
		return s.SaveCalibrationPoint(ctx, v.Predicted, v.Success)
	default:
		return s.persistOpaque(ctx, rec)
	}
}

// persistOpaque stores an unrecognized payload as a JSON fallback chain
// record when it looks like one, otherwise reports a contract error.
func (s *Store) persistOpaque(ctx context.Context, rec retry.Record) error {
	if rec.Kind != retry.RecordFallbackChain {
		return fmt.Errorf("unsupported record payload %T for kind %s", rec.Payload, rec.Kind)
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal fallback chain: %w", err)
	}
	var chain struct {
		TaskID        string   `json:"task_id"`
		ObjectiveType string   `json:"objective_type"`
		FailedAgents  []string `json:"failed_agents"`
		SuccessAgent  string   `json:"success_agent"`
	}
	if err := json.Unmarshal(data, &chain); err != nil {
		return fmt.Errorf("unmarshal fallback chain: %w", err)
	}
	return s.SaveFallbackChain(ctx, chain.TaskID, chain.ObjectiveType, chain.FailedAgents, chain.SuccessAgent)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
