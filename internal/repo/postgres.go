package repo

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/playbookhq/readiness-engine/internal/models"
)

//go:embed sql/postgres/*.sql
var postgresMigrations embed.FS

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and pings the database.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded schema files in lexical order. Every file is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	entries, err := postgresMigrations.ReadDir("sql/postgres")
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
		body, err := postgresMigrations.ReadFile("sql/postgres/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := p.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// InsertActivity implements activity.Store.
func (p *Postgres) InsertActivity(ctx context.Context, e models.ActivityFeedEvent) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO activity_feed_events
            (id, organization_id, event_type, title, description, severity, related_entity_type, related_entity_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, e.ID, e.OrganizationID, e.EventType, e.Title, e.Description, string(e.Severity), e.RelatedEntityType, e.RelatedEntityID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// ListActivity implements activity.Store.
func (p *Postgres) ListActivity(ctx context.Context, orgID string, limit int) ([]models.ActivityFeedEvent, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT id, organization_id, event_type, title, description, severity, related_entity_type, related_entity_id, created_at
        FROM activity_feed_events
        WHERE organization_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `, orgID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query activity events: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityFeedEvent
	for rows.Next() {
		var e models.ActivityFeedEvent
		var severity string
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.EventType, &e.Title, &e.Description, &severity,
			&e.RelatedEntityType, &e.RelatedEntityID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.Severity = models.Severity(severity)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SignalExists implements signals.Store.
func (p *Postgres) SignalExists(ctx context.Context, orgID string, signalType models.SignalType, source string, from, to time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM weak_signals
            WHERE organization_id = $1 AND signal_type = $2 AND source = $3
              AND detected_at >= $4 AND detected_at < $5
        )
    `, orgID, string(signalType), source, from, to).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate signal: %w", err)
	}
	return exists, nil
}

// InsertSignal implements signals.Store.
func (p *Postgres) InsertSignal(ctx context.Context, s models.WeakSignal) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO weak_signals
            (id, organization_id, signal_type, description, confidence, timeline, impact, source, status, detected_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, s.ID, s.OrganizationID, string(s.SignalType), s.Description, s.Confidence, s.Timeline, string(s.Impact), s.Source, string(s.Status), s.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert weak signal: %w", err)
	}
	return nil
}

// ExpireSignals implements signals.Store.
func (p *Postgres) ExpireSignals(ctx context.Context, orgID string, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
        UPDATE weak_signals SET status = $3
        WHERE organization_id = $1 AND status = $4 AND detected_at < $2
    `, orgID, cutoff, statusExpired, statusActive)
	if err != nil {
		return 0, fmt.Errorf("expire weak signals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveSignals implements patterns.Store.
func (p *Postgres) ListActiveSignals(ctx context.Context, orgID string, limit int) ([]models.WeakSignal, error) {
	return p.ListSignals(ctx, orgID, models.SignalStatusActive, limit)
}

// ListSignals implements Store.
func (p *Postgres) ListSignals(ctx context.Context, orgID string, st models.SignalStatus, limit int) ([]models.WeakSignal, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT id, organization_id, signal_type, description, confidence, timeline, impact, source, status, detected_at
        FROM weak_signals
        WHERE organization_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY detected_at DESC, id DESC
        LIMIT $3
    `, orgID, string(st), clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query weak signals: %w", err)
	}
	defer rows.Close()

	var out []models.WeakSignal
	for rows.Next() {
		var s models.WeakSignal
		var signalType, impact, status string
		if err := rows.Scan(&s.ID, &s.OrganizationID, &signalType, &s.Description, &s.Confidence, &s.Timeline,
			&impact, &s.Source, &status, &s.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan weak signal: %w", err)
		}
		s.SignalType = models.SignalType(signalType)
		s.Impact = models.Impact(impact)
		s.Status = models.SignalStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PatternExists implements patterns.Store.
func (p *Postgres) PatternExists(ctx context.Context, orgID, patternType string, since time.Time) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM oracle_patterns
            WHERE organization_id = $1 AND pattern_type = $2 AND status = $3 AND detected_at >= $4
        )
    `, orgID, patternType, statusDetected, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent pattern: %w", err)
	}
	return exists, nil
}

// InsertPattern implements patterns.Store.
func (p *Postgres) InsertPattern(ctx context.Context, pt models.OraclePattern) error {
	recs, evidence, err := marshalPatternLists(pt)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
        INSERT INTO oracle_patterns
            (id, organization_id, pattern_type, description, confidence, impact, timeline, recommendations, evidence_signals, status, detected_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11)
    `, pt.ID, pt.OrganizationID, pt.PatternType, pt.Description, pt.Confidence, string(pt.Impact), pt.Timeline,
		recs, evidence, string(pt.Status), pt.DetectedAt)
	if err != nil {
		return fmt.Errorf("insert oracle pattern: %w", err)
	}
	return nil
}

// UpdatePatternStatus implements patterns.Store.
func (p *Postgres) UpdatePatternStatus(ctx context.Context, orgID, patternID string, st models.PatternStatus) error {
	tag, err := p.pool.Exec(ctx, `
        UPDATE oracle_patterns SET status = $3 WHERE organization_id = $1 AND id = $2
    `, orgID, patternID, string(st))
	if err != nil {
		return fmt.Errorf("update pattern status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListPatterns implements Store.
func (p *Postgres) ListPatterns(ctx context.Context, orgID string, st models.PatternStatus, limit int) ([]models.OraclePattern, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT id, organization_id, pattern_type, description, confidence, impact, timeline, recommendations, evidence_signals, status, detected_at
        FROM oracle_patterns
        WHERE organization_id = $1 AND ($2 = '' OR status = $2)
        ORDER BY detected_at DESC, id DESC
        LIMIT $3
    `, orgID, string(st), clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query oracle patterns: %w", err)
	}
	defer rows.Close()

	var out []models.OraclePattern
	for rows.Next() {
		var pt models.OraclePattern
		var impact, status string
		var recs, evidence []byte
		if err := rows.Scan(&pt.ID, &pt.OrganizationID, &pt.PatternType, &pt.Description, &pt.Confidence, &impact,
			&pt.Timeline, &recs, &evidence, &status, &pt.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan oracle pattern: %w", err)
		}
		pt.Impact = models.Impact(impact)
		pt.Status = models.PatternStatus(status)
		if err := json.Unmarshal(recs, &pt.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		if err := json.Unmarshal(evidence, &pt.EvidenceSignals); err != nil {
			return nil, fmt.Errorf("decode evidence_signals: %w", err)
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}

// CountActivePatterns implements status.Store.
func (p *Postgres) CountActivePatterns(ctx context.Context, orgID string) (int, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM oracle_patterns WHERE organization_id = $1 AND status = $2`, orgID, statusDetected)
}

// GetExecution implements learning.Store.
func (p *Postgres) GetExecution(ctx context.Context, executionID string) (models.ExecutionInstance, error) {
	var e models.ExecutionInstance
	err := p.pool.QueryRow(ctx, `
        SELECT id, organization_id, scenario_id, status, outcome, lessons_learned, actual_execution_time, started_at, completed_at
        FROM execution_instances WHERE id = $1
    `, executionID).Scan(&e.ID, &e.OrganizationID, &e.ScenarioID, &e.Status, &e.Outcome, &e.LessonsLearned,
		&e.ActualExecutionTime, &e.StartedAt, &e.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ExecutionInstance{}, models.ErrNotFound
		}
		return models.ExecutionInstance{}, fmt.Errorf("load execution: %w", err)
	}
	return e, nil
}

// LearningsExist implements learning.Store.
func (p *Postgres) LearningsExist(ctx context.Context, executionID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
        SELECT EXISTS (SELECT 1 FROM playbook_learnings WHERE execution_instance_id = $1)
    `, executionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check learnings: %w", err)
	}
	return exists, nil
}

// InsertLearning implements learning.Store.
func (p *Postgres) InsertLearning(ctx context.Context, l models.PlaybookLearning) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO playbook_learnings
            (id, organization_id, scenario_id, execution_instance_id, learning, category, impact, confidence, extracted_at, applied_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, l.ID, l.OrganizationID, l.ScenarioID, l.ExecutionInstanceID, l.Learning, string(l.Category), string(l.Impact),
		l.Confidence, l.ExtractedAt, l.AppliedAt)
	if err != nil {
		return fmt.Errorf("insert learning: %w", err)
	}
	return nil
}

// MarkLearningApplied implements learning.Store.
func (p *Postgres) MarkLearningApplied(ctx context.Context, orgID, learningID string, appliedAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
        UPDATE playbook_learnings SET applied_at = $3
        WHERE organization_id = $1 AND id = $2 AND applied_at IS NULL
    `, orgID, learningID, appliedAt)
	if err != nil {
		return fmt.Errorf("mark learning applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListLearnings implements Store.
func (p *Postgres) ListLearnings(ctx context.Context, orgID string, limit int) ([]models.PlaybookLearning, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT id, organization_id, scenario_id, execution_instance_id, learning, category, impact, confidence, extracted_at, applied_at
        FROM playbook_learnings
        WHERE organization_id = $1
        ORDER BY extracted_at DESC, id DESC
        LIMIT $2
    `, orgID, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("query learnings: %w", err)
	}
	defer rows.Close()

	var out []models.PlaybookLearning
	for rows.Next() {
		var l models.PlaybookLearning
		var category, impact string
		if err := rows.Scan(&l.ID, &l.OrganizationID, &l.ScenarioID, &l.ExecutionInstanceID, &l.Learning, &category,
			&impact, &l.Confidence, &l.ExtractedAt, &l.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan learning: %w", err)
		}
		l.Category = models.LearningCategory(category)
		l.Impact = models.Impact(impact)
		out = append(out, l)
	}
	return out, rows.Err()
}

// PlaybookCounts implements readiness.Store.
func (p *Postgres) PlaybookCounts(ctx context.Context, orgID string) (int, int, error) {
	var total, ready int
	err := p.pool.QueryRow(ctx, `
        SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $2)
        FROM playbooks WHERE organization_id = $1
    `, orgID, statusReady).Scan(&total, &ready)
	if err != nil {
		return 0, 0, fmt.Errorf("count playbooks: %w", err)
	}
	return total, ready, nil
}

// CountActiveScenarios implements readiness.Store.
func (p *Postgres) CountActiveScenarios(ctx context.Context, orgID string) (int, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM scenarios WHERE organization_id = $1 AND status = $2`, orgID, statusScenario)
}

// CountActiveSignals implements readiness.Store.
func (p *Postgres) CountActiveSignals(ctx context.Context, orgID string) (int, error) {
	return p.count(ctx, `SELECT COUNT(*) FROM weak_signals WHERE organization_id = $1 AND status = $2`, orgID, statusActive)
}

// ExecutionStats implements readiness.Store.
func (p *Postgres) ExecutionStats(ctx context.Context, orgID string, since time.Time) (models.ExecutionStats, error) {
	var stats models.ExecutionStats
	err := p.pool.QueryRow(ctx, `
        WITH completed AS (
            SELECT COALESCE(actual_execution_time, EXTRACT(EPOCH FROM (completed_at - started_at)) / 60.0)::float8 AS minutes
            FROM execution_instances
            WHERE organization_id = $1 AND status = $2 AND completed_at >= $3
        )
        SELECT COUNT(*),
               COUNT(minutes) FILTER (WHERE minutes >= 0),
               COALESCE(AVG(minutes) FILTER (WHERE minutes >= 0), 0)::float8
        FROM completed
    `, orgID, statusCompleted, since).Scan(&stats.Completed, &stats.Timed, &stats.AverageMinutes)
	if err != nil {
		return models.ExecutionStats{}, fmt.Errorf("execution stats: %w", err)
	}
	return stats, nil
}

// LearningStats implements readiness.Store.
func (p *Postgres) LearningStats(ctx context.Context, orgID string, since time.Time) (int, int, error) {
	var total, applied int
	err := p.pool.QueryRow(ctx, `
        SELECT COUNT(*), COUNT(applied_at)
        FROM playbook_learnings WHERE organization_id = $1 AND extracted_at >= $2
    `, orgID, since).Scan(&total, &applied)
	if err != nil {
		return 0, 0, fmt.Errorf("learning stats: %w", err)
	}
	return total, applied, nil
}

// LatestReadinessMetric implements readiness.Store.
func (p *Postgres) LatestReadinessMetric(ctx context.Context, orgID string) (*models.ReadinessMetric, error) {
	list, err := p.ListReadinessMetrics(ctx, orgID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// InsertReadinessMetric implements readiness.Store.
func (p *Postgres) InsertReadinessMetric(ctx context.Context, m models.ReadinessMetric) error {
	_, err := p.pool.Exec(ctx, `
        INSERT INTO readiness_metrics
            (id, organization_id, overall_score, foresight_score, velocity_score, agility_score, learning_score,
             adaptability_score, active_scenarios, weak_signals_detected, playbooks_ready, playbooks_total,
             average_response_time, trend, measurement_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
    `, m.ID, m.OrganizationID, m.OverallScore, m.ForesightScore, m.VelocityScore, m.AgilityScore, m.LearningScore,
		m.AdaptabilityScore, m.ActiveScenarios, m.WeakSignalsDetected, m.PlaybooksReady, m.PlaybooksTotal,
		m.AverageResponseTime, string(m.Trend), m.MeasurementDate)
	if err != nil {
		return fmt.Errorf("insert readiness metric: %w", err)
	}
	return nil
}

// ListReadinessMetrics implements readiness.Store.
func (p *Postgres) ListReadinessMetrics(ctx context.Context, orgID string, limit int) ([]models.ReadinessMetric, error) {
	rows, err := p.pool.Query(ctx, `
        SELECT id, organization_id, overall_score, foresight_score, velocity_score, agility_score, learning_score,
               adaptability_score, active_scenarios, weak_signals_detected, playbooks_ready, playbooks_total,
               average_response_time, trend, measurement_date
        FROM readiness_metrics
        WHERE organization_id = $1
        ORDER BY measurement_date DESC
        LIMIT $2
    `, orgID, clampLimit(limit, 30, 365))
	if err != nil {
		return nil, fmt.Errorf("query readiness metrics: %w", err)
	}
	defer rows.Close()

	var out []models.ReadinessMetric
	for rows.Next() {
		var m models.ReadinessMetric
		var trend string
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.OverallScore, &m.ForesightScore, &m.VelocityScore,
			&m.AgilityScore, &m.LearningScore, &m.AdaptabilityScore, &m.ActiveScenarios, &m.WeakSignalsDetected,
			&m.PlaybooksReady, &m.PlaybooksTotal, &m.AverageResponseTime, &trend, &m.MeasurementDate); err != nil {
			return nil, fmt.Errorf("scan readiness metric: %w", err)
		}
		m.Trend = models.Trend(trend)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func marshalPatternLists(pt models.OraclePattern) (string, string, error) {
	recs := pt.Recommendations
	if recs == nil {
		recs = []string{}
	}
	evidence := pt.EvidenceSignals
	if evidence == nil {
		evidence = []string{}
	}
	recsJSON, err := json.Marshal(recs)
	if err != nil {
		return "", "", fmt.Errorf("marshal recommendations: %w", err)
	}
	evidenceJSON, err := json.Marshal(evidence)
	if err != nil {
		return "", "", fmt.Errorf("marshal evidence: %w", err)
	}
	return string(recsJSON), string(evidenceJSON), nil
}
