package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/inboxpilot/usagecap/internal/errors"
	"github.com/inboxpilot/usagecap/internal/logging"
	"github.com/inboxpilot/usagecap/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides SQLite-backed storage for tenants, lead events and
// notification markers, with WAL mode enabled. Timestamps are stored as
// UTC unix nanoseconds so window comparisons are exact.
type SQLiteStore struct {
	mu       sync.RWMutex
	db       *sql.DB
	logger   *logging.Logger
	settings SettingsStore

	// Retention cleanup
	cleanupTicker   *time.Ticker
	cleanupDone     chan struct{}
	retentionMonths int
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithRetentionMonths enables hourly deletion of lead events older than n
// full months. Zero keeps events forever.
func WithRetentionMonths(n int) SQLiteOption {
	return func(s *SQLiteStore) {
		s.retentionMonths = n
	}
}

// WithLogger sets the store logger.
func WithLogger(l *logging.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		s.logger = l
	}
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	s, err := newSQLiteStoreFromDB(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newSQLiteStoreFromDB(db *sql.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	settingsStore, err := NewSQLiteSettingsStore(db)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		db:          db,
		logger:      logging.NewLogger(),
		settings:    settingsStore,
		cleanupDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.retentionMonths > 0 {
		s.startCleanup()
	}
	return s, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS tenants (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL DEFAULT '',
					name TEXT NOT NULL DEFAULT '',
					plan TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				);

				CREATE TABLE IF NOT EXISTS lead_events (
					id TEXT PRIMARY KEY,
					tenant_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					status TEXT NOT NULL,
					sender TEXT NOT NULL DEFAULT '',
					subject TEXT NOT NULL DEFAULT '',
					body TEXT NOT NULL DEFAULT '',
					draft TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_lead_events_window ON lead_events(tenant_id, kind, created_at);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS notification_markers (
					tenant_id TEXT PRIMARY KEY,
					warned_75_month TEXT NOT NULL DEFAULT '',
					limit_email_month TEXT NOT NULL DEFAULT '',
					limit_hit_date INTEGER,
					followup_sent_month TEXT NOT NULL DEFAULT '',
					last_limit_month TEXT NOT NULL DEFAULT '',
					version INTEGER NOT NULL DEFAULT 0,
					updated_at INTEGER NOT NULL,
					FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE
				);
			`,
		},
		{
			version: 3,
			up: `
				ALTER TABLE notification_markers ADD COLUMN reset_sent_month TEXT NOT NULL DEFAULT '';
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				if _, err := s.PurgeEventsBefore(context.Background(), s.retentionCutoff(time.Now())); err != nil {
					s.logger.Error("cleanup failed", "table", "lead_events", "error", err)
				}
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

// retentionCutoff keeps the current month plus retentionMonths full months.
func (s *SQLiteStore) retentionCutoff(now time.Time) time.Time {
	return models.StartOfMonth(now.UTC()).AddDate(0, -s.retentionMonths, 0)
}

// PurgeEventsBefore deletes lead events created before cutoff.
func (s *SQLiteStore) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM lead_events WHERE created_at < ?", toNanos(cutoff))
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "purge lead events", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close stops background cleanup and closes the database.
func (s *SQLiteStore) Close() error {
	if s.cleanupTicker != nil {
		s.cleanupTicker.Stop()
		close(s.cleanupDone)
		s.cleanupTicker = nil
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Settings returns the settings store.
func (s *SQLiteStore) Settings() SettingsStore {
	return s.settings
}

// Tenant operations

const tenantColumns = "id, email, name, plan, created_at, updated_at"

func scanTenant(row interface{ Scan(...any) error }) (*models.Tenant, error) {
	var t models.Tenant
	var created, updated int64
	if err := row.Scan(&t.ID, &t.Email, &t.Name, &t.Plan, &created, &updated); err != nil {
		return nil, err
	}
	t.CreatedAt = fromNanos(created)
	t.UpdatedAt = fromNanos(updated)
	return &t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *SQLiteStore) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := scanTenant(s.db.QueryRowContext(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, &errors.ErrTenantNotFound{TenantID: id}
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get tenant", Err: err}
	}
	return t, nil
}

// UpsertTenant stores or updates a tenant.
func (s *SQLiteStore) UpsertTenant(ctx context.Context, t *models.Tenant) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, email, name, plan, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			plan = excluded.plan,
			updated_at = excluded.updated_at
	`, t.ID, t.Email, t.Name, t.Plan, toNanos(t.CreatedAt), toNanos(t.UpdatedAt))
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "upsert tenant", Err: err}
	}
	return nil
}

// DeleteTenant removes a tenant together with its events and markers.
func (s *SQLiteStore) DeleteTenant(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM tenants WHERE id = ?", id)
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "delete tenant", Err: err}
	}
	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

// ListTenants returns all tenants ordered by ID.
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+tenantColumns+" FROM tenants ORDER BY id")
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list tenants", Err: err}
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan tenant", Err: err}
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list tenants", Err: err}
	}
	return tenants, nil
}

// Event operations

// RecordEvent durably stores a lead event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, e *models.LeadEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_events (id, tenant_id, kind, status, sender, subject, body, draft, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			draft = excluded.draft
	`, e.ID, e.TenantID, string(e.Kind), string(e.Status), e.Sender, e.Subject, e.Body, e.Draft, toNanos(e.CreatedAt))
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "record event", Err: err}
	}
	return nil
}

// CountEvents counts events of kind created in [from, to).
func (s *SQLiteStore) CountEvents(ctx context.Context, tenantID string, kind models.EventKind, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lead_events
		WHERE tenant_id = ? AND kind = ? AND created_at >= ? AND created_at < ?
	`, tenantID, string(kind), toNanos(from), toNanos(to)).Scan(&count)
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "count events", Err: err}
	}
	return count, nil
}

// ListEvents returns a tenant's events created in [from, to), oldest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, tenantID string, from, to time.Time) ([]*models.LeadEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, kind, status, sender, subject, body, draft, created_at
		FROM lead_events
		WHERE tenant_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id
	`, tenantID, toNanos(from), toNanos(to))
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list events", Err: err}
	}
	defer rows.Close()

	var events []*models.LeadEvent
	for rows.Next() {
		var e models.LeadEvent
		var kind, status string
		var created int64
		if err := rows.Scan(&e.ID, &e.TenantID, &kind, &status, &e.Sender, &e.Subject, &e.Body, &e.Draft, &created); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan event", Err: err}
		}
		e.Kind = models.EventKind(kind)
		e.Status = models.LeadStatus(status)
		e.CreatedAt = fromNanos(created)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list events", Err: err}
	}
	return events, nil
}

// Marker operations

// ReadMarkers returns the tenant's notification state, zero-valued if absent.
func (s *SQLiteStore) ReadMarkers(ctx context.Context, tenantID string) (models.NotificationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.readMarkers(ctx, tenantID)
}

func (s *SQLiteStore) readMarkers(ctx context.Context, tenantID string) (models.NotificationState, error) {
	state := models.NotificationState{TenantID: tenantID}
	var warned, limitMonth, followup, lastLimit, resetSent string
	var hit sql.NullInt64
	var updated int64

	err := s.db.QueryRowContext(ctx, `
		SELECT warned_75_month, limit_email_month, limit_hit_date, followup_sent_month,
			last_limit_month, reset_sent_month, version, updated_at
		FROM notification_markers WHERE tenant_id = ?
	`, tenantID).Scan(&warned, &limitMonth, &hit, &followup, &lastLimit, &resetSent, &state.Version, &updated)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return state, &errors.ErrDatabaseQuery{Operation: "read markers", Err: err}
	}

	state.Warned75Month = models.MonthStamp(warned)
	state.LimitEmailMonth = models.MonthStamp(limitMonth)
	state.FollowupSentMonth = models.MonthStamp(followup)
	state.LastLimitMonth = models.MonthStamp(lastLimit)
	state.ResetSentMonth = models.MonthStamp(resetSent)
	if hit.Valid {
		t := fromNanos(hit.Int64)
		state.LimitHitDate = &t
	}
	state.UpdatedAt = fromNanos(updated)
	return state, nil
}

// WriteMarkers merges update into the stored record under an optimistic
// version check. The read happens under the store mutex. The write is an
// UPDATE guarded by the expected version, or an INSERT ... DO NOTHING for a
// new record, so a writer in another process that bumped the version first
// turns this call into a conflict.
func (s *SQLiteStore) WriteMarkers(ctx context.Context, tenantID string, update models.MarkerUpdate, expectedVersion int64) (models.NotificationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readMarkers(ctx, tenantID)
	if err != nil {
		return current, err
	}
	if current.Version != expectedVersion {
		return current, &errors.ErrMarkerConflict{TenantID: tenantID, Expected: expectedVersion}
	}
	if update.IsEmpty() {
		return current, nil
	}

	next := current.Apply(update)
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()

	var hit any
	if next.LimitHitDate != nil {
		hit = toNanos(*next.LimitHitDate)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO notification_markers (tenant_id, warned_75_month, limit_email_month, limit_hit_date,
				followup_sent_month, last_limit_month, reset_sent_month, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(tenant_id) DO NOTHING
		`, tenantID, string(next.Warned75Month), string(next.LimitEmailMonth), hit,
			string(next.FollowupSentMonth), string(next.LastLimitMonth), string(next.ResetSentMonth),
			next.Version, toNanos(next.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE notification_markers SET
				warned_75_month = ?, limit_email_month = ?, limit_hit_date = ?,
				followup_sent_month = ?, last_limit_month = ?, reset_sent_month = ?,
				version = ?, updated_at = ?
			WHERE tenant_id = ? AND version = ?
		`, string(next.Warned75Month), string(next.LimitEmailMonth), hit,
			string(next.FollowupSentMonth), string(next.LastLimitMonth), string(next.ResetSentMonth),
			next.Version, toNanos(next.UpdatedAt), tenantID, expectedVersion)
	}
	if err != nil {
		return current, &errors.ErrDatabaseQuery{Operation: "write markers", Err: err}
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return current, &errors.ErrMarkerConflict{TenantID: tenantID, Expected: expectedVersion}
	}

	return next, nil
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ Store = (*SQLiteStore)(nil)
