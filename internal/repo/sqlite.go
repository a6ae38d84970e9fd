package repo

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/playbookhq/readiness-engine/internal/models"
)

//go:embed sql/sqlite/*.sql
var sqliteMigrations embed.FS

// sqliteTimeLayout is fixed width so lexical order matches chronological order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite implements Store on a single-file database for local development and tests.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Migrate applies the embedded schema files in lexical order.
func (s *SQLite) Migrate(ctx context.Context) error {
	entries, err := sqliteMigrations.ReadDir("sql/sqlite")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := sqliteMigrations.ReadFile("sql/sqlite/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseTime(v string) (time.Time, error) {
	return time.Parse(sqliteTimeLayout, v)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertActivity implements activity.Store.
func (s *SQLite) InsertActivity(ctx context.Context, e models.ActivityFeedEvent) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO activity_feed_events
            (id, organization_id, event_type, title, description, severity, related_entity_type, related_entity_id, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, e.ID, e.OrganizationID, e.EventType, e.Title, e.Description, string(e.Severity), e.RelatedEntityType,
		e.RelatedEntityID, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// ListActivity implements activity.Store.
func (s *SQLite) ListActivity(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, organization_id, event_type, title, description, severity, related_entity_type, related_entity_id, created_at
        FROM activity_feed_events
        WHERE organization_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, orgID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityFeedEvent
	for rows.Next() {
		var e models.ActivityFeedEvent
		var severity, created string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.EventType, &e.Title, &e.Description, &severity,
			&e.RelatedEntityType, &e.RelatedEntityID, &created); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.Severity = models.Severity(severity)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SignalExists implements signals.Store.
func (s *SQLite) SignalExists(ctx context.Context, orgID string, signalType models.SignalType, source string, from, to time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM weak_signals
        WHERE organization_id = ? AND signal_type = ? AND source = ? AND detected_at >= ? AND detected_at < ?
    `, orgID, string(signalType), source, formatTime(from), formatTime(to)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check duplicate signal: %w", err)
	}
	return n > 0, nil
}

// InsertSignal implements signals.Store.
func (s *SQLite) InsertSignal(ctx context.Context, sig models.WeakSignal) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO weak_signals
            (id, organization_id, signal_type, description, confidence, timeline, impact, source, status, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, sig.ID, sig.OrganizationID, string(sig.SignalType), sig.Description, sig.Confidence, sig.Timeline,
		string(sig.Impact), sig.Source, string(sig.Status), formatTime(sig.DetectedAt))
	if err != nil {
		return fmt.Errorf("insert weak signal: %w", err)
	}
	return nil
}

// ExpireSignals implements signals.Store.
func (s *SQLite) ExpireSignals(ctx context.Context, orgID string, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE weak_signals SET status = ?
        WHERE organization_id = ? AND status = ? AND detected_at < ?
    `, statusExpired, orgID, statusActive, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expire weak signals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire weak signals: %w", err)
	}
	return int(n), nil
}

// ListActiveSignals implements patterns.Store.
func (s *SQLite) ListActiveSignals(ctx context.Context, orgID string, limit int) ([]models.WeakSignal, error) {
	return s.ListSignals(ctx, orgID, models.SignalStatusActive, limit)
}

// ListSignals implements Store.
func (s *SQLite) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, organization_id, signal_type, description, confidence, timeline, impact, source, status, detected_at
        FROM weak_signals
        WHERE organization_id = ? AND (? = '' OR status = ?)
        ORDER BY detected_at DESC, id DESC
        LIMIT ?
    `, orgID, string(st), string(st), clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query weak signals: %w", err)
	}
	defer rows.Close()

	var out []models.WeakSignal
	for rows.Next() {
		var sig models.WeakSignal
		var signalType, impact, status, detected string
		if err := rows.Scan(&sig.ID, &sig.OrganizationID, &signalType, &sig.Description, &sig.Confidence,
			&sig.Timeline, &impact, &sig.Source, &status, &detected); err != nil {
			return nil, fmt.Errorf("scan weak signal: %w", err)
		}
		sig.SignalType = models.SignalType(signalType)
		sig.Impact = models.Impact(impact)
		sig.Status = models.SignalStatus(status)
		if sig.DetectedAt, err = parseTime(detected); err != nil {
			return nil, fmt.Errorf("parse detected_at: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// PatternExists implements patterns.Store.
func (s *SQLite) PatternExists(ctx context.Context, orgID, patternType string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM oracle_patterns
        WHERE organization_id = ? AND pattern_type = ? AND status = ? AND detected_at >= ?
    `, orgID, patternType, statusDetected, formatTime(since)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check recent pattern: %w", err)
	}
	return n > 0, nil
}

// InsertPattern implements patterns.Store.
func (s *SQLite) InsertPattern(ctx context.Context, pt models.OraclePattern) error {
	recs, evidence, err := marshalPatternLists(pt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO oracle_patterns
            (id, organization_id, pattern_type, description, confidence, impact, timeline, recommendations, evidence_signals, status, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, pt.ID, pt.OrganizationID, pt.PatternType, pt.Description, pt.Confidence, string(pt.Impact), pt.Timeline,
		recs, evidence, string(pt.Status), formatTime(pt.DetectedAt))
	if err != nil {
		return fmt.Errorf("insert oracle pattern: %w", err)
	}
	return nil
}

// UpdatePatternStatus implements patterns.Store.
func (s *SQLite) UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE oracle_patterns SET status = ? WHERE organization_id = ? AND id = ?
    `, string(st), orgID, patternID)
	if err != nil {
		return fmt.Errorf("update pattern status: %w", err)
	}
	return requireAffected(res)
}

// ListPatterns implements Store.
func (s *SQLite) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, organization_id, pattern_type, description, confidence, impact, timeline, recommendations, evidence_signals, status, detected_at
        FROM oracle_patterns
        WHERE organization_id = ? AND (? = '' OR status = ?)
        ORDER BY detected_at DESC, id DESC
        LIMIT ?
    `, orgID, string(st), string(st), clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query oracle patterns: %w", err)
	}
	defer rows.Close()

	var out []models.OraclePattern
	for rows.Next() {
		var pt models.OraclePattern
		var impact, status, recs, evidence, detected string
		if err := rows.Scan(&pt.ID, &pt.OrganizationID, &pt.PatternType, &pt.Description, &pt.Confidence, &impact,
			&pt.Timeline, &recs, &evidence, &status, &detected); err != nil {
			return nil, fmt.Errorf("scan oracle pattern: %w", err)
		}
		pt.Impact = models.Impact(impact)
		pt.Status = models.PatternStatus(status)
		if err := json.Unmarshal([]byte(recs), &pt.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &pt.EvidenceSignals); err != nil {
			return nil, fmt.Errorf("decode evidence_signals: %w", err)
		}
		if pt.DetectedAt, err = parseTime(detected); err != nil {
			return nil, fmt.Errorf("parse detected_at: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// CountActivePatterns implements status.Store.
func (s *SQLite) CountActivePatterns(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM oracle_patterns WHERE organization_id = ? AND status = ?`, orgID, statusDetected)
}

// GetExecution implements learning.Store.
func (s *SQLite) GetExecution(ctx context.Context, executionID string) (models.ExecutionInstance, error) {
	var e models.ExecutionInstance
	var actual sql.NullFloat64
	var started string
	var completed sql.NullString
	err := s.db.QueryRowContext(ctx, `
        SELECT id, organization_id, scenario_id, status, outcome, lessons_learned, actual_execution_time, started_at, completed_at
        FROM execution_instances WHERE id = ?
    `, executionID).Scan(&e.ID, &e.OrganizationID, &e.ScenarioID, &e.Status, &e.Outcome, &e.LessonsLearned,
		&actual, &started, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ExecutionInstance{}, models.ErrNotFound
		}
		return models.ExecutionInstance{}, fmt.Errorf("load execution: %w", err)
	}
	if actual.Valid {
		v := actual.Float64
		e.ActualExecutionTime = &v
	}
	if e.StartedAt, err = parseTime(started); err != nil {
		return models.ExecutionInstance{}, fmt.Errorf("parse started_at: %w", err)
	}
	if e.CompletedAt, err = parseNullableTime(completed); err != nil {
		return models.ExecutionInstance{}, fmt.Errorf("parse completed_at: %w", err)
	}
	return e, nil
}

// LearningsExist implements learning.Store.
func (s *SQLite) LearningsExist(ctx context.Context, executionID string) (bool, error) {
	n, err := s.count(ctx, `SELECT COUNT(*) FROM playbook_learnings WHERE execution_instance_id = ?`, executionID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertLearning implements learning.Store.
func (s *SQLite) InsertLearning(ctx context.Context, l models.PlaybookLearning) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO playbook_learnings
            (id, organization_id, scenario_id, execution_instance_id, learning, category, impact, confidence, extracted_at, applied_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, l.ID, l.OrganizationID, l.ScenarioID, l.ExecutionInstanceID, l.Learning, string(l.Category), string(l.Impact),
		l.Confidence, formatTime(l.ExtractedAt), formatNullableTime(l.AppliedAt))
	if err != nil {
		return fmt.Errorf("insert learning: %w", err)
	}
	return nil
}

// MarkLearningApplied implements learning.Store.
func (s *SQLite) MarkLearningApplied(ctx context.Context, orgID, learningID string, appliedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE playbook_learnings SET applied_at = ?
        WHERE organization_id = ? AND id = ? AND applied_at IS NULL
    `, formatTime(appliedAt), orgID, learningID)
	if err != nil {
		return fmt.Errorf("mark learning applied: %w", err)
	}
	return requireAffected(res)
}

// ListLearnings implements Store.
func (s *SQLite) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, organization_id, scenario_id, execution_instance_id, learning, category, impact, confidence, extracted_at, applied_at
        FROM playbook_learnings
        WHERE organization_id = ?
        ORDER BY extracted_at DESC, id DESC
        LIMIT ?
    `, orgID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query learnings: %w", err)
	}
	defer rows.Close()

	var out []models.PlaybookLearning
	for rows.Next() {
		var l models.PlaybookLearning
		var category, impact, extracted string
		var applied sql.NullString
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.ScenarioID, &l.ExecutionInstanceID, &l.Learning, &category,
			&impact, &l.Confidence, &extracted, &applied); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		l.Category = models.LearningCategory(category)
		l.Impact = models.Impact(impact)
		if l.ExtractedAt, err = parseTime(extracted); err != nil {
			return nil, fmt.Errorf("parse extracted_at: %w", err)
		}
		if l.AppliedAt, err = parseNullableTime(applied); err != nil {
			return nil, fmt.Errorf("parse applied_at: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// PlaybookCounts implements readiness.Store.
func (s *SQLite) PlaybookCounts(ctx context.Context, orgID string) (int, int, error) {
	var total, ready int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
        FROM playbooks WHERE organization_id = ?
    `, statusReady, orgID).Scan(&total, &ready)
	if err != nil {
		return 0, 0, fmt.Errorf("count playbooks: %w", err)
	}
	return total, ready, nil
}

// CountActiveScenarios implements readiness.Store.
func (s *SQLite) CountActiveScenarios(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM scenarios WHERE organization_id = ? AND status = ?`, orgID, statusScenario)
}

// CountActiveSignals implements readiness.Store.
func (s *SQLite) CountActiveSignals(ctx context.Context, orgID string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM weak_signals WHERE organization_id = ? AND status = ?`, orgID, statusActive)
}

// ExecutionStats implements readiness.Store.
func (s *SQLite) ExecutionStats(ctx context.Context, orgID string, since time.Time) (models.ExecutionStats, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT actual_execution_time, started_at, completed_at
        FROM execution_instances
        WHERE organization_id = ? AND status = ? AND completed_at >= ?
    `, orgID, statusCompleted, formatTime(since))
	if err != nil {
		return models.ExecutionStats{}, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close()

	var samples []executionSample
	for rows.Next() {
		var actual sql.NullFloat64
		var started string
		var completed sql.NullString
		if err := rows.Scan(&actual, &started, &completed); err != nil {
			return models.ExecutionStats{}, fmt.Errorf("scan execution: %w", err)
		}
		var sample executionSample
		if actual.Valid {
			v := actual.Float64
			sample.actual = &v
		}
		if sample.started, err = parseTime(started); err != nil {
			return models.ExecutionStats{}, fmt.Errorf("parse started_at: %w", err)
		}
		if sample.completed, err = parseNullableTime(completed); err != nil {
			return models.ExecutionStats{}, fmt.Errorf("parse completed_at: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return models.ExecutionStats{}, fmt.Errorf("execution stats: %w", err)
	}
	return aggregateExecutions(samples), nil
}

// LearningStats implements readiness.Store.
func (s *SQLite) LearningStats(ctx context.Context, orgID string, since time.Time) (int, int, error) {
	var total, applied int
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COUNT(applied_at)
        FROM playbook_learnings WHERE organization_id = ? AND extracted_at >= ?
    `, orgID, formatTime(since)).Scan(&total, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("learning stats: %w", err)
	}
	return total, applied, nil
}

// LatestReadinessMetric implements readiness.Store.
func (s *SQLite) LatestReadinessMetric(ctx context.Context, orgID string) (*models.ReadinessMetric, error) {
	list, err := s.ListReadinessMetrics(ctx, orgID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// InsertReadinessMetric implements readiness.Store.
func (s *SQLite) InsertReadinessMetric(ctx context.Context, m models.ReadinessMetric) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO readiness_metrics
            (id, organization_id, overall_score, foresight_score, velocity_score, agility_score, learning_score,
             adaptability_score, active_scenarios, weak_signals_detected, playbooks_ready, playbooks_total,
             average_response_time, trend, measurement_date)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, m.ID, m.OrganizationID, m.OverallScore, m.ForesightScore, m.VelocityScore, m.AgilityScore, m.LearningScore,
		m.AdaptabilityScore, m.ActiveScenarios, m.WeakSignalsDetected, m.PlaybooksReady, m.PlaybooksTotal,
		m.AverageResponseTime, string(m.Trend), formatTime(m.MeasurementDate))
	if err != nil {
		return fmt.Errorf("insert readiness metric: %w", err)
	}
	return nil
}

// ListReadinessMetrics implements readiness.Store.
func (s *SQLite) ListReadinessMetrics(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, organization_id, overall_score, foresight_score, velocity_score, agility_score, learning_score,
               adaptability_score, active_scenarios, weak_signals_detected, playbooks_ready, playbooks_total,
               average_response_time, trend, measurement_date
        FROM readiness_metrics
        WHERE organization_id = ?
        ORDER BY measurement_date DESC
        LIMIT ?
    `, orgID, clampLimit(limit, 30, 365))
	if err != nil {
		return nil, fmt.Errorf("query readiness metrics: %w", err)
	}
	defer rows.Close()

	var out []models.ReadinessMetric
	for rows.Next() {
		var m models.ReadinessMetric
		var trend, measured string
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.OverallScore, &m.ForesightScore, &m.VelocityScore,
			&m.AgilityScore, &m.LearningScore, &m.AdaptabilityScore, &m.ActiveScenarios, &m.WeakSignalsDetected,
			&m.PlaybooksReady, &m.PlaybooksTotal, &m.AverageResponseTime, &trend, &measured); err != nil {
			return nil, fmt.Errorf("scan readiness metric: %w", err)
		}
		m.Trend = models.Trend(trend)
		if m.MeasurementDate, err = parseTime(measured); err != nil {
			return nil, fmt.Errorf("parse measurement_date: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}
