package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/athlete-monitor/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Timestamps are stored as fixed-width UTC text so they sort and compare
// lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS subjects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	club       TEXT NOT NULL DEFAULT '',
	handles    TEXT NOT NULL DEFAULT '{}',
	profile    TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subjects_name ON subjects(lower(name));

CREATE TABLE IF NOT EXISTS scan_runs (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL REFERENCES subjects(id),
	triggered_by TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	deep         INTEGER NOT NULL DEFAULT 0,
	counts       TEXT NOT NULL DEFAULT '{}',
	alert_count  INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_scan_runs_subject ON scan_runs(subject_id, started_at);

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
	likes           INTEGER NOT NULL DEFAULT 0,
	shares          INTEGER NOT NULL DEFAULT 0,
	comments        INTEGER NOT NULL DEFAULT 0,
	views           INTEGER NOT NULL DEFAULT 0,
	followers       INTEGER NOT NULL DEFAULT 0,
	engagement_rate REAL NOT NULL DEFAULT 0,
	published_at    TEXT,
	scanned_at      TEXT NOT NULL,
	relevant        INTEGER NOT NULL DEFAULT 1,
	sentiment       REAL NOT NULL DEFAULT 0,
	label           TEXT NOT NULL DEFAULT 'neutral',
	topics          TEXT NOT NULL DEFAULT '[]',
	brands          TEXT NOT NULL DEFAULT '[]',
	scored          INTEGER NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_items_subject_url ON items(subject_id, url) WHERE url <> '';
DROP INDEX IF EXISTS idx_items_subject_hash;
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_subject_hash_nourl ON items(subject_id, content_hash) WHERE url = '';
CREATE INDEX IF NOT EXISTS idx_items_subject_kind ON items(subject_id, kind);

CREATE TABLE IF NOT EXISTS scan_reports (
	id              TEXT PRIMARY KEY,
	scan_run_id     TEXT NOT NULL,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	summary         TEXT NOT NULL DEFAULT '',
	topics          TEXT NOT NULL DEFAULT '[]',
	brands          TEXT NOT NULL DEFAULT '[]',
	current_summary TEXT NOT NULL DEFAULT '{}',
	delta           TEXT NOT NULL DEFAULT '{}',
	image_index     TEXT NOT NULL DEFAULT '{}',
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_reports_subject ON scan_reports(subject_id, created_at);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	subject_id  TEXT NOT NULL REFERENCES subjects(id),
	scan_run_id TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	title       TEXT NOT NULL,
	message     TEXT NOT NULL DEFAULT '',
	evidence    TEXT NOT NULL DEFAULT '{}',
	read        INTEGER NOT NULL DEFAULT 0,
	dismissed   INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id, created_at);

CREATE TABLE IF NOT EXISTS intelligence_reports (
	id              TEXT PRIMARY KEY,
	subject_id      TEXT NOT NULL REFERENCES subjects(id),
	scan_run_id     TEXT NOT NULL DEFAULT '',
	risk_score      REAL NOT NULL DEFAULT 0,
	summary         TEXT NOT NULL DEFAULT '',
	early_signals   TEXT NOT NULL DEFAULT '[]',
	item_count      INTEGER NOT NULL DEFAULT 0,
	narrative_count INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_intel_subject ON intelligence_reports(subject_id, created_at);

CREATE TABLE IF NOT EXISTS narratives (
	id             TEXT PRIMARY KEY,
	report_id      TEXT NOT NULL REFERENCES intelligence_reports(id),
	position       INTEGER NOT NULL,
	title          TEXT NOT NULL,
	description    TEXT NOT NULL DEFAULT '',
	category       TEXT NOT NULL,
	severity       TEXT NOT NULL,
	trend          TEXT NOT NULL,
	item_refs      TEXT NOT NULL DEFAULT '[]',
	sources        TEXT NOT NULL DEFAULT '[]',
	recommendation TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_narratives_report ON narratives(report_id, position);

CREATE TABLE IF NOT EXISTS weekly_reports (
	id             TEXT PRIMARY KEY,
	subject_id     TEXT NOT NULL REFERENCES subjects(id),
	week_start     TEXT NOT NULL,
	recommendation TEXT NOT NULL,
	risks          TEXT NOT NULL DEFAULT '[]',
	opportunities  TEXT NOT NULL DEFAULT '[]',
	justification  TEXT NOT NULL DEFAULT '',
	image_index    REAL NOT NULL DEFAULT 0,
	risk_score     REAL NOT NULL DEFAULT 0,
	created_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_weekly_subject ON weekly_reports(subject_id, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- subjects ---

const subjectColumns = `id, name, club, handles, profile, created_at, updated_at`

func (s *SQLiteStore) UpsertSubject(ctx context.Context, in model.SubjectInput) (*model.Subject, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, eris.New("sqlite: subject name is required")
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
		_, err = s.db.ExecContext(ctx,
			`UPDATE subjects SET club = ?, handles = ?, profile = ?, updated_at = ? WHERE id = ?`,
			existing.Club, handles, profile, fmtTime(now), existing.ID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update subject %s", existing.ID)
		}
		return existing, nil
	}

	subj := &model.Subject{ID: uuid.New().String(), Name: name, CreatedAt: now, UpdatedAt: now}
	subj.Merge(in)
	handles, profile, err := marshalSubjectMaps(subj)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subjects (`+subjectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		subj.ID, subj.Name, subj.Club, handles, profile, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert subject")
	}
	return subj, nil
}

func (s *SQLiteStore) GetSubject(ctx context.Context, id string) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subjectColumns+` FROM subjects WHERE id = ?`, id)
	subj, err := scanSQLiteSubject(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "subject %s", id)
	}
	return subj, err
}

func (s *SQLiteStore) GetSubjectByName(ctx context.Context, name string) (*model.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subjectColumns+` FROM subjects WHERE lower(name) = lower(?)`,
		strings.TrimSpace(name),
	)
	subj, err := scanSQLiteSubject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return subj, err
}

func (s *SQLiteStore) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subjectColumns+` FROM subjects ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list subjects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Subject
	for rows.Next() {
		subj, err := scanSQLiteSubject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *subj)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate subjects")
}

func scanSQLiteSubject(row scannable) (*model.Subject, error) {
	var subj model.Subject
	var handles, profile, created, updated string
	err := row.Scan(&subj.ID, &subj.Name, &subj.Club, &handles, &profile, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan subject")
	}
	if err := unmarshalSubjectMaps(&subj, []byte(handles), []byte(profile)); err != nil {
		return nil, err
	}
	if subj.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if subj.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &subj, nil
}

// --- items ---

const itemColumns = `id, subject_id, kind, origin, author, title, body, url, content_hash,
	likes, shares, comments, views, followers, engagement_rate, published_at, scanned_at,
	relevant, sentiment, label, topics, brands, scored`

func (s *SQLiteStore) ExistingIdentifiers(ctx context.Context, subjectID string) (*Identifiers, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, content_hash FROM items WHERE subject_id = ?`, subjectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing identifiers")
	}
	defer rows.Close() //nolint:errcheck

	ids := &Identifiers{}
	for rows.Next() {
		var u, h string
		if err := rows.Scan(&u, &h); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identifiers")
		}
		if u != "" {
			ids.URLs = append(ids.URLs, u)
			continue
		}
		ids.Hashes = append(ids.Hashes, h)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate identifiers")
}

// InsertItems writes items with INSERT OR IGNORE so the unique url index,
// and the content hash index for items without a URL, drop duplicates. It
// returns the items actually written, with their stored identity filled.
func (s *SQLiteStore) InsertItems(ctx context.Context, subjectID, scanRunID string, items []model.ClassifiedItem) ([]model.ClassifiedItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin insert items")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO items (`+itemColumns+`, scan_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prepare insert items")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted []model.ClassifiedItem
	for _, it := range items {
		it = prepareItem(subjectID, it)
		row, err := itemRow(subjectID, it)
		if err != nil {
			return nil, err
		}
		args := make([]any, 0, len(row)+1)
		for i, v := range row {
			switch i {
			case 15:
				args = append(args, fmtTimePtr(it.PublishedAt))
			case 16:
				args = append(args, fmtTime(v.(time.Time)))
			default:
				args = append(args, v)
			}
		}
		args = append(args, scanRunID)

		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert item")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: rows affected")
		}
		if n > 0 {
			inserted = append(inserted, it)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit insert items")
	}
	return inserted, nil
}

func (s *SQLiteStore) RecentItems(ctx context.Context, subjectID string, since time.Time, limit int) ([]model.ClassifiedItem, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items
		WHERE subject_id = ? AND relevant = 1 AND COALESCE(published_at, scanned_at) >= ?
		ORDER BY COALESCE(published_at, scanned_at) DESC LIMIT ?`,
		subjectID, fmtTime(since), limit,
	)
}

func (s *SQLiteStore) ScoringHistory(ctx context.Context, subjectID string) ([]model.ClassifiedItem, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM items WHERE subject_id = ? AND relevant = 1 ORDER BY scanned_at`,
		subjectID,
	)
}

func (s *SQLiteStore) LastSubjectPostAt(ctx context.Context, subjectID string) (*time.Time, error) {
	var last sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(COALESCE(published_at, scanned_at)) FROM items WHERE subject_id = ? AND kind = ?`,
		subjectID, string(model.KindSubjectPost),
	).Scan(&last)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last subject post")
	}
	return parseTimePtr(last)
}

func (s *SQLiteStore) CurrentSummary(ctx context.Context, subjectID string) (model.Summary, error) {
	items, err := s.ScoringHistory(ctx, subjectID)
	if err != nil {
		return model.Summary{}, eris.Wrap(err, "sqlite: current summary")
	}
	return summarize(items), nil
}

// GetPreviousSummary returns the summary snapshotted by the latest report,
// or nil before the first report.
func (s *SQLiteStore) GetPreviousSummary(ctx context.Context, subjectID string) (*model.Summary, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT current_summary FROM scan_reports WHERE subject_id = ? ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: previous summary")
	}
	var sum model.Summary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}
	return &sum, nil
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string, args ...any) ([]model.ClassifiedItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query items")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ClassifiedItem
	for rows.Next() {
		var it model.ClassifiedItem
		var kind, label, topics, brands, scanned string
		var published sql.NullString
		err := rows.Scan(&it.ID, &it.SubjectID, &kind, &it.Origin, &it.Author, &it.Title, &it.Text,
			&it.URL, &it.Hash, &it.Likes, &it.Shares, &it.Comments, &it.Views, &it.Followers,
			&it.EngagementRate, &published, &scanned, &it.Relevant, &it.Sentiment, &label,
			&topics, &brands, &it.Scored)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		it.Kind = model.SourceKind(kind)
		it.Label = model.SentimentLabel(label)
		if err := unmarshalTags(&it, []byte(topics), []byte(brands)); err != nil {
			return nil, err
		}
		if it.PublishedAt, err = parseTimePtr(published); err != nil {
			return nil, err
		}
		if it.ScannedAt, err = parseTime(scanned); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

// --- scan runs ---

const scanRunColumns = `id, subject_id, triggered_by, status, deep, counts, alert_count, error, started_at, finished_at`

func (s *SQLiteStore) OpenScanRun(ctx context.Context, subjectID string, trigger model.Trigger, deep bool) (*model.ScanRun, error) {
	run := &model.ScanRun{
		ID:        uuid.New().String(),
		SubjectID: subjectID,
		Trigger:   trigger,
		Status:    model.ScanStatusRunning,
		Deep:      deep,
		Counts:    map[model.SourceKind]model.SourceCount{},
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_runs (id, subject_id, triggered_by, status, deep, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, subjectID, string(trigger), string(run.Status), deep, fmtTime(run.StartedAt),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open scan run")
	}
	return run, nil
}

func (s *SQLiteStore) CloseScanRun(ctx context.Context, run *model.ScanRun) error {
	if run.FinishedAt == nil {
		now := time.Now().UTC()
		run.FinishedAt = &now
	}
	counts, err := json.Marshal(run.Counts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_runs SET status = ?, counts = ?, alert_count = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(run.Status), string(counts), run.AlertCount, run.Error, fmtTime(*run.FinishedAt), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: close scan run %s", run.ID)
	}
	return checkRowsAffected(res, "scan run", run.ID)
}

func (s *SQLiteStore) CompletedScanCount(ctx context.Context, subjectID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scan_runs WHERE subject_id = ? AND status = ?`,
		subjectID, string(model.ScanStatusCompleted),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: completed scan count")
}

func (s *SQLiteStore) ListScanRuns(ctx context.Context, filter ScanRunFilter) ([]model.ScanRun, error) {
	query := `SELECT ` + scanRunColumns + ` FROM scan_runs`
	var args []any
	if filter.SubjectID != "" {
		query += ` WHERE subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scan runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ScanRun
	for rows.Next() {
		var r model.ScanRun
		var trigger, status, counts, started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.SubjectID, &trigger, &status, &r.Deep, &counts,
			&r.AlertCount, &r.Error, &started, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scan run")
		}
		r.Trigger = model.Trigger(trigger)
		r.Status = model.ScanStatus(status)
		if err := json.Unmarshal([]byte(counts), &r.Counts); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal counts")
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTimePtr(finished); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate scan runs")
}

// --- scan reports ---

func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.ScanReport) error {
	prepareReport(r)
	blobs, err := marshalReport(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_reports (id, scan_run_id, subject_id, summary, topics, brands, current_summary, delta, image_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ScanRunID, r.SubjectID, r.Summary, string(blobs[0]), string(blobs[1]),
		string(blobs[2]), string(blobs[3]), string(blobs[4]), fmtTime(r.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: save report")
}

func (s *SQLiteStore) GetLatestReport(ctx context.Context, subjectID string) (*model.ScanReport, error) {
	var r model.ScanReport
	var topics, brands, current, delta, index, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scan_run_id, subject_id, summary, topics, brands, current_summary, delta, image_index, created_at
		FROM scan_reports WHERE subject_id = ? ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.ScanRunID, &r.SubjectID, &r.Summary, &topics, &brands, &current, &delta, &index, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest report")
	}
	if err := unmarshalReport(&r, []byte(topics), []byte(brands), []byte(current), []byte(delta), []byte(index)); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- intelligence reports ---

// SaveIntelligenceReport writes the report and its narratives in one
// transaction.
func (s *SQLiteStore) SaveIntelligenceReport(ctx context.Context, r *model.IntelligenceReport) error {
	prepareIntelligence(r)
	signals, err := json.Marshal(r.EarlySignals)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal early signals")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin intelligence report")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO intelligence_reports (id, subject_id, scan_run_id, risk_score, summary, early_signals, item_count, narrative_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SubjectID, r.ScanRunID, r.RiskScore, r.Summary, string(signals),
		r.ItemCount, len(r.Narratives), fmtTime(r.CreatedAt),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert intelligence report")
	}

	for i := range r.Narratives {
		n := &r.Narratives[i]
		refs, sources, err := marshalNarrativeLists(n)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO narratives (id, report_id, position, title, description, category, severity, trend, item_refs, sources, recommendation)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, r.ID, i, n.Title, n.Description, string(n.Category), string(n.Severity),
			string(n.Trend), string(refs), string(sources), n.Recommendation,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert narrative")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit intelligence report")
}

// GetLastIntelligenceReport returns the latest report that has narratives,
// falling back to the latest report of any kind.
func (s *SQLiteStore) GetLastIntelligenceReport(ctx context.Context, subjectID string) (*model.IntelligenceReport, error) {
	var r model.IntelligenceReport
	var signals, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, scan_run_id, risk_score, summary, early_signals, item_count, created_at
		FROM intelligence_reports WHERE subject_id = ?
		ORDER BY (narrative_count > 0) DESC, created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.SubjectID, &r.ScanRunID, &r.RiskScore, &r.Summary, &signals, &r.ItemCount, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get intelligence report")
	}
	if err := json.Unmarshal([]byte(signals), &r.EarlySignals); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal early signals")
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, category, severity, trend, item_refs, sources, recommendation
		FROM narratives WHERE report_id = ? ORDER BY position`,
		r.ID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list narratives")
	}
	defer rows.Close() //nolint:errcheck

	r.Narratives = []model.Narrative{}
	for rows.Next() {
		n := model.Narrative{ReportID: r.ID}
		var category, severity, trend, refs, sources string
		if err := rows.Scan(&n.ID, &n.Title, &n.Description, &category, &severity, &trend,
			&refs, &sources, &n.Recommendation); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan narrative")
		}
		n.Category = model.NarrativeCategory(category)
		n.Severity = model.Severity(severity)
		n.Trend = model.Trend(trend)
		if err := unmarshalNarrativeLists(&n, []byte(refs), []byte(sources)); err != nil {
			return nil, err
		}
		r.Narratives = append(r.Narratives, n)
	}
	return &r, eris.Wrap(rows.Err(), "sqlite: iterate narratives")
}

// --- weekly reports ---

func (s *SQLiteStore) SaveWeeklyReport(ctx context.Context, r *model.WeeklyReport) error {
	prepareWeekly(r)
	risks, opps, err := marshalWeeklyLists(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weekly_reports (id, subject_id, week_start, recommendation, risks, opportunities, justification, image_index, risk_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SubjectID, fmtTime(r.WeekStart), string(r.Recommendation), string(risks), string(opps),
		r.Justification, r.ImageIndex, r.RiskScore, fmtTime(r.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: save weekly report")
}

func (s *SQLiteStore) GetLatestWeeklyReport(ctx context.Context, subjectID string) (*model.WeeklyReport, error) {
	var r model.WeeklyReport
	var week, rec, risks, opps, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, subject_id, week_start, recommendation, risks, opportunities, justification, image_index, risk_score, created_at
		FROM weekly_reports WHERE subject_id = ? ORDER BY created_at DESC LIMIT 1`,
		subjectID,
	).Scan(&r.ID, &r.SubjectID, &week, &rec, &risks, &opps, &r.Justification, &r.ImageIndex, &r.RiskScore, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get weekly report")
	}
	r.Recommendation = model.Recommendation(rec)
	if err := unmarshalWeeklyLists(&r, []byte(risks), []byte(opps)); err != nil {
		return nil, err
	}
	if r.WeekStart, err = parseTime(week); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &r, nil
}

// --- alerts ---

func (s *SQLiteStore) InsertAlert(ctx context.Context, a *model.Alert) error {
	prepareAlert(a)
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal evidence")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, subject_id, scan_run_id, type, severity, title, message, evidence, read, dismissed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubjectID, a.ScanRunID, string(a.Type), string(a.Severity), a.Title, a.Message,
		string(evidence), a.Read, a.Dismissed, fmtTime(a.CreatedAt),
	)
	return eris.Wrap(err, "sqlite: insert alert")
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, subject_id, scan_run_id, type, severity, title, message, evidence, read, dismissed, created_at FROM alerts WHERE 1=1`
	var args []any
	if filter.SubjectID != "" {
		query += ` AND subject_id = ?`
		args = append(args, filter.SubjectID)
	}
	if filter.UnreadOnly {
		query += ` AND read = 0`
	}
	if !filter.IncludeDismissed {
		query += ` AND dismissed = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, alertLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list alerts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var typ, sev, evidence, created string
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.ScanRunID, &typ, &sev, &a.Title, &a.Message,
			&evidence, &a.Read, &a.Dismissed, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.Type = model.AlertType(typ)
		a.Severity = model.AlertSeverity(sev)
		if err := json.Unmarshal([]byte(evidence), &a.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
		if a.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate alerts")
}

func (s *SQLiteStore) MarkAlertRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark alert read %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

func (s *SQLiteStore) DismissAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET dismissed = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: dismiss alert %s", id)
	}
	return checkRowsAffected(res, "alert", id)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
