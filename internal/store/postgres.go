package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/athlete-monitor/internal/db"
	"github.com/sells-group/athlete-monitor/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(8)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	club       TEXT NOT NULL DEFAULT '',
	handles    JSONB NOT NULL DEFAULT '{}',
	profile    JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subjects_name ON subjects(lower(name));

CREATE TABLE IF NOT EXISTS scan_runs (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL REFERENCES subjects(id),
	triggered_by TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	deep         BOOLEAN NOT NULL DEFAULT false,
	counts       JSONB NOT NULL DEFAULT '{}',
	alert_count  INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_subject ON scan_runs(subject_id, started_at DESC);

CREATE TABLE IF NOT EXISTS items (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	scan_run_id     TEXT NOT NULL,
	kind            TEXT NOT NULL,
	origin          TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	url             TEXT NOT NULL DEFAULT '',
	content_hash    TEXT NOT NULL,
	likes           BIGINT NOT NULL DEFAULT 0,
	shares          BIGINT NOT NULL DEFAULT 0,
	comments        BIGINT NOT NULL DEFAULT 0,
	views           BIGINT NOT NULL DEFAULT 0,
	followers       BIGINT NOT NULL DEFAULT 0,
	engagement_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	published_at    TIMESTAMPTZ,
	scanned_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	relevant        BOOLEAN NOT NULL DEFAULT true,
	sentiment       DOUBLE PRECISION NOT NULL DEFAULT 0,
	label           TEXT NOT NULL DEFAULT 'neutral',
	topics          JSONB NOT NULL DEFAULT '[]',
	brands          JSONB NOT NULL DEFAULT '[]',
	scored          BOOLEAN NOT NULL DEFAULT false
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_subject_url ON items(subject_id, url) WHERE url <> '';
DROP INDEX IF EXISTS idx_items_subject_hash;
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_subject_hash_nourl ON items(subject_id, content_hash) WHERE url = '';
CREATE INDEX IF NOT EXISTS idx_items_subject_kind ON items(subject_id, kind);
CREATE INDEX IF NOT EXISTS idx_items_subject_ts ON items(subject_id, (COALESCE(published_at, scanned_at)) DESC);

CREATE TABLE IF NOT EXISTS scan_reports (
	id              TEXT PRIMARY KEY,
	scan_run_id     TEXT NOT NULL,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	summary         TEXT NOT NULL DEFAULT '',
	topics          JSONB NOT NULL DEFAULT '[]',
	brands          JSONB NOT NULL DEFAULT '[]',
	current_summary JSONB NOT NULL DEFAULT '{}',
	delta           JSONB NOT NULL DEFAULT '{}',
	image_index     JSONB NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scan_reports_subject ON scan_reports(subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL REFERENCES subjects(id),
	scan_run_id TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	evidence    JSONB NOT NULL DEFAULT '{}',
	read        BOOLEAN NOT NULL DEFAULT false,
	dismissed   BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS intelligence_reports (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	scan_run_id     TEXT NOT NULL DEFAULT '',
	risk_score      DOUBLE PRECISION NOT NULL DEFAULT 0,
	summary         TEXT NOT NULL DEFAULT '',
	early_signals   JSONB NOT NULL DEFAULT '[]',
	item_count      INTEGER NOT NULL DEFAULT 0,
	narrative_count INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_intel_subject ON intelligence_reports(subject_id, created_at DESC);

CREATE TABLE IF NOT EXISTS narratives (
	id             TEXT PRIMARY KEY,
	report_id      TEXT NOT NULL REFERENCES intelligence_reports(id),
	position       INTEGER NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL,
	severity       TEXT NOT NULL,
	trend          TEXT NOT NULL,
	item_refs      JSONB NOT NULL DEFAULT '[]',
	sources        JSONB NOT NULL DEFAULT '[]',
	recommendation TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_narratives_report ON narratives(report_id, position);

CREATE TABLE IF NOT EXISTS weekly_reports (
	id             TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL REFERENCES subjects(id),
	week_start     TIMESTAMPTZ NOT NULL,
	recommendation TEXT NOT NULL,
	risks          JSONB NOT NULL DEFAULT '[]',
	opportunities  JSONB NOT NULL DEFAULT '[]',
	justification  TEXT NOT NULL DEFAULT '',
	image_index    DOUBLE PRECISION NOT NULL DEFAULT 0,
	risk_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_weekly_subject ON weekly_reports(subject_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- subjects ---

func (s *PostgresStore) UpsertSubject(ctx context.Context, in model.SubjectInput) (*model.Subject, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, eris.New("postgres: subject name is required")
	}

	existing, err := s.GetSubjectByName(ctx, name)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if existing != nil {
		existing.Merge(in)
		existing.UpdatedAt = now
		handles, profile, err := marshalSubjectMaps(existing)
		if err != nil {
			return nil, err
		}
		_, err = s.pool.Exec(ctx,
			`UPDATE subjects SET club = $1, handles = $2, profile = $3, updated_at = $4 WHERE id = $5`,
			existing.Club, handles, profile, now, existing.ID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update subject %s", existing.ID)
		}
		return existing, nil
	}

	subj := &model.Subject{ID: uuid.New().String(), Name: name, CreatedAt: now, UpdatedAt: now}
	subj.Merge(in)
	handles, profile, err := marshalSubjectMaps(subj)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO subjects (`+subjectColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		subj.ID, subj.Name, subj.Club, handles, profile, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert subject")
	}
	return subj, nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = $1`, id)
	subj, err := scanPGSubject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "subject %s", id)
	}
	return subj, err
}

func (s *PostgresStore) GetSubjectByName(ctx context.Context, name string) (*model.Subject, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE lower(name) = lower($1)`,
		strings.TrimSpace(name),
	)
	subj, err := scanPGSubject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return subj, err
}

func (s *PostgresStore) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subjectColumns+` FROM subjects ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list subjects")
	}
	defer rows.Close()

	var out []model.Subject
	for rows.Next() {
		subj, err := scanPGSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *subj)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate subjects")
}

func scanPGSubject(row pgx.Row) (*model.Subject, error) {
	var subj model.Subject
	var handles, profile []byte
	err := row.Scan(&subj.ID, &subj.Name, &subj.Club, &handles, &profile, &subj.CreatedAt, &subj.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan subject")
	}
	if err := unmarshalSubjectMaps(&subj, handles, profile); err != nil {
		return nil, err
	}
	return &subj, nil
}

// --- items ---

var itemColumnList = func() []string {
	cols := strings.Split(itemColumns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}
	return cols
}()

func (s *PostgresStore) ExistingIdentifiers(ctx context.Context, subjectID string) (*Identifiers, error) {
	rows, err := s.pool.Query(ctx, `SELECT url, content_hash FROM items WHERE subject_id = $1`, subjectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing identifiers")
	}
	defer rows.Close()

	ids := &Identifiers{}
	for rows.Next() {
		var u, h string
		if err := rows.Scan(&u, &h); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identifiers")
		}
		if u != "" {
			ids.URLs = append(ids.URLs, u)
			continue
		}
		ids.Hashes = append(ids.Hashes, h)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate identifiers")
}

// InsertItems bulk-copies items and lets the unique url index, and the
// content hash index for items without a URL, drop duplicates. It returns
// the items actually written.
func (s *PostgresStore) InsertItems(ctx context.Context, subjectID, scanRunID string, items []model.ClassifiedItem) ([]model.ClassifiedItem, error) {
	prepared := make([]model.ClassifiedItem, 0, len(items))
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		it = prepareItem(subjectID, it)
		row, err := itemRow(subjectID, it)
		if err != nil {
			return nil, err
		}
		prepared = append(prepared, it)
		rows = append(rows, append(row, scanRunID))
	}
	ids, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:   "items",
		Columns: append(append([]string{}, itemColumnList...), "scan_run_id"),
		Key:     "id",
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert items")
	}

	written := make(map[string]bool, len(ids))
	for _, id := range ids {
		written[id] = true
	}
	var inserted []model.ClassifiedItem
	for _, it := range prepared {
		if written[it.ID] {
			inserted = append(inserted, it)
		}
	}
	return inserted, nil
}

func (s *PostgresStore) RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items
		WHERE subject_id = $1 AND relevant AND COALESCE(published_at, scanned_at) >= $2
		ORDER BY COALESCE(published_at, scanned_at) DESC LIMIT $3`,
		subjectID, since, limit,
	)
}

func (s *PostgresStore) ScoringHistory(ctx context.Context, subjectID string) ([]model.ClassifiedItem, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE subject_id = $1 AND relevant ORDER BY scanned_at`,
		subjectID,
	)
}

func (s *PostgresStore) LastSubjectPostAt(ctx context.Context, subjectID string) (*time.Time, error) {
	var last *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(COALESCE(published_at, scanned_at)) FROM items WHERE subject_id = $1 AND kind = $2`,
		subjectID, string(model.KindSubjectPost),
	).Scan(&last)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last subject post")
	}
	return last, nil
}

func (s *PostgresStore) CurrentSummary(ctx context.Context, subjectID string) (model.Summary, error) {
	items, err := s.ScoringHistory(ctx, subjectID)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "postgres: current summary")
	}
	return summarize(items), nil
}

func (s *PostgresStore) GetPreviousSummary(ctx context.Context, subjectID string) (*model.Summary, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT current_summary FROM scan_reports WHERE subject_id = $1 ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: previous summary")
	}
	var sum model.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal summary")
	}
	return &sum, nil
}

func (s *PostgresStore) queryItems(ctx context.Context, query string, args ...any) ([]model.ClassifiedItem, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query items")
	}
	defer rows.Close()

	var out []model.ClassifiedItem
	for rows.Next() {
		var it model.ClassifiedItem
		var kind, label string
		var topics, brands []byte
		err := rows.Scan(&it.ID, &it.SubjectID, &kind, &it.Origin, &it.Author, &it.Title, &it.Text,
			&it.URL, &it.Hash, &it.Likes, &it.Shares, &it.Comments, &it.Views, &it.Followers,
			&it.EngagementRate, &it.PublishedAt, &it.ScannedAt, &it.Relevant, &it.Sentiment, &label,
			&topics, &brands, &it.Scored)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		it.Kind = model.SourceKind(kind)
		it.Label = model.SentimentLabel(label)
		if err := unmarshalTags(&it, topics, brands); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate items")
}

// --- scan runs ---

func (s *PostgresStore) OpenScanRun(ctx context.Context, subjectID string, trigger model.Trigger, deep bool) (*model.ScanRun, error) {
	run := &model.ScanRun{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Trigger:   trigger,
		Status:    model.ScanStatusRunning,
		Deep:      deep,
		Counts:    map[model.SourceKind]model.SourceCount{},
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scan_runs (id, subject_id, triggered_by, status, deep, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, subjectID, string(trigger), string(run.Status), deep, run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open scan run")
	}
	return run, nil
}

func (s *PostgresStore) CloseScanRun(ctx context.Context, run *model.ScanRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal counts")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_runs SET status = $1, counts = $2, alert_count = $3, error = $4, finished_at = $5 WHERE id = $6`,
		string(run.Status), counts, run.AlertCount, run.Error, *run.FinishedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: close scan run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scan run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) CompletedScanCount(ctx context.Context, subjectID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scan_runs WHERE subject_id = $1 AND status = $2`,
		subjectID, string(model.ScanStatusCompleted),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: completed scan count")
}

func (s *PostgresStore) ListScanRuns(ctx context.Context, filter ScanRunFilter) ([]model.ScanRun, error) {
	query := `SELECT ` + scanRunColumns + ` FROM scan_runs WHERE true`
	args := []any{}
	argIdx := 1
	if filter.SubjectID != "" {
		query += fmt.Sprintf(` AND subject_id = $%d`, argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scan runs")
	}
	defer rows.Close()

	var out []model.ScanRun
	for rows.Next() {
		var r model.ScanRun
		var trigger, status string
		var counts []byte
		if err := rows.Scan(&r.ID, &r.SubjectID, &trigger, &status, &r.Deep, &counts,
			&r.AlertCount, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scan run")
		}
		r.Trigger = model.Trigger(trigger)
		r.Status = model.ScanStatus(status)
		if err := json.Unmarshal(counts, &r.Counts); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal counts")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate scan runs")
}

// --- scan reports ---

func (s *PostgresStore) SaveReport(ctx context.Context, r *model.ScanReport) error {
	prepareReport(r)
	blobs, err := marshalReport(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scan_reports (id, scan_run_id, subject_id, summary, topics, brands, current_summary, delta, image_index, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.ScanRunID, r.SubjectID, r.Summary, blobs[0], blobs[1], blobs[2], blobs[3], blobs[4], r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: save report")
}

func (s *PostgresStore) GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error) {
	var r model.ScanReport
	var topics, brands, current, delta, index []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, scan_run_id, subject_id, summary, topics, brands, current_summary, delta, image_index, created_at
		FROM scan_reports WHERE subject_id = $1 ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.ScanRunID, &r.SubjectID, &r.Summary, &topics, &brands, &current, &delta, &index, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get latest report")
	}
	if err := unmarshalReport(&r, topics, brands, current, delta, index); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- intelligence reports ---

// SaveIntelligenceReport writes the report and its narratives in one
// transaction.
func (s *PostgresStore) SaveIntelligenceReport(ctx context.Context, r *model.IntelligenceReport) error {
	prepareIntelligence(r)
	signals, err := json.Marshal(r.EarlySignals)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal early signals")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin intelligence report")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO intelligence_reports (id, subject_id, scan_run_id, risk_score, summary, early_signals, item_count, narrative_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.SubjectID, r.ScanRunID, r.RiskScore, r.Summary, signals, r.ItemCount, len(r.Narratives), r.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert intelligence report")
	}

	for i := range r.Narratives {
		n := &r.Narratives[i]
		refs, sources, err := marshalNarrativeLists(n)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO narratives (id, report_id, position, title, description, category, severity, trend, item_refs, sources, recommendation)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			n.ID, r.ID, i, n.Title, n.Description, string(n.Category), string(n.Severity),
			string(n.Trend), refs, sources, n.Recommendation,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert narrative")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit intelligence report")
}

// GetLastIntelligenceReport returns the latest report that has narratives,
// falling back to the latest report of any kind.
func (s *PostgresStore) GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error) {
	var r model.IntelligenceReport
	var signals []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, scan_run_id, risk_score, summary, early_signals, item_count, created_at
		FROM intelligence_reports WHERE subject_id = $1
		ORDER BY (narrative_count > 0) DESC, created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.SubjectID, &r.ScanRunID, &r.RiskScore, &r.Summary, &signals, &r.ItemCount, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get intelligence report")
	}
	if err := json.Unmarshal(signals, &r.EarlySignals); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal early signals")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, description, category, severity, trend, item_refs, sources, recommendation
		FROM narratives WHERE report_id = $1 ORDER BY position`,
		r.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list narratives")
	}
	defer rows.Close()

	r.Narratives = []model.Narrative{}
	for rows.Next() {
		n := model.Narrative{ReportID: r.ID}
		var category, severity, trend string
		var refs, sources []byte
		if err := rows.Scan(&n.ID, &n.Title, &n.Description, &category, &severity, &trend,
			&refs, &sources, &n.Recommendation); err != nil {
			return nil, eris.Wrap(err, "postgres: scan narrative")
		}
		n.Category = model.NarrativeCategory(category)
		n.Severity = model.Severity(severity)
		n.Trend = model.Trend(trend)
		if err := unmarshalNarrativeLists(&n, refs, sources); err != nil {
			return nil, err
		}
		r.Narratives = append(r.Narratives, n)
	}
	return &r, eris.Wrap(rows.Err(), "postgres: iterate narratives")
}

// --- weekly reports ---

func (s *PostgresStore) SaveWeeklyReport(ctx context.Context, r *model.WeeklyReport) error {
	prepareWeekly(r)
	risks, opps, err := marshalWeeklyLists(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO weekly_reports (id, subject_id, week_start, recommendation, risks, opportunities, justification, image_index, risk_score, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.SubjectID, r.WeekStart, string(r.Recommendation), risks, opps,
		r.Justification, r.ImageIndex, r.RiskScore, r.CreatedAt,
	)
	return eris.Wrap(err, "postgres: save weekly report")
}

func (s *PostgresStore) GetLatestWeeklyReport(ctx context.Context, subjectID string) (*model.WeeklyReport, error) {
	var r model.WeeklyReport
	var rec string
	var risks, opps []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, subject_id, week_start, recommendation, risks, opportunities, justification, image_index, risk_score, created_at
		FROM weekly_reports WHERE subject_id = $1 ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.SubjectID, &r.WeekStart, &rec, &risks, &opps, &r.Justification, &r.ImageIndex, &r.RiskScore, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get weekly report")
	}
	r.Recommendation = model.Recommendation(rec)
	if err := unmarshalWeeklyLists(&r, risks, opps); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- alerts ---

func (s *PostgresStore) InsertAlert(ctx context.Context, a *model.Alert) error {
	prepareAlert(a)
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal evidence")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, subject_id, scan_run_id, type, severity, title, message, evidence, read, dismissed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.SubjectID, a.ScanRunID, string(a.Type), string(a.Severity), a.Title, a.Message,
		evidence, a.Read, a.Dismissed, a.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert alert")
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, subject_id, scan_run_id, type, severity, title, message, evidence, read, dismissed, created_at FROM alerts WHERE true`
	args := []any{}
	argIdx := 1
	if filter.SubjectID != "" {
		query += fmt.Sprintf(` AND subject_id = $%d`, argIdx)
		args = append(args, filter.SubjectID)
		argIdx++
	}
	if filter.UnreadOnly {
		query += ` AND NOT read`
	}
	if !filter.IncludeDismissed {
		query += ` AND NOT dismissed`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, alertLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ, sev string
		var evidence []byte
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.ScanRunID, &typ, &sev, &a.Title, &a.Message,
			&evidence, &a.Read, &a.Dismissed, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.AlertSeverity(sev)
		if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal evidence")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate alerts")
}

func (s *PostgresStore) MarkAlertRead(ctx context.Context, id string) error {
	return s.updateAlertFlag(ctx, `UPDATE alerts SET read = true WHERE id = $1`, id)
}

func (s *PostgresStore) DismissAlert(ctx context.Context, id string) error {
	return s.updateAlertFlag(ctx, `UPDATE alerts SET dismissed = true WHERE id = $1`, id)
}

func (s *PostgresStore) updateAlertFlag(ctx context.Context, query, id string) error {
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update alert %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "alert %s", id)
	}
	return nil
}
