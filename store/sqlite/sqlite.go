// Package sqlite implements store.Store using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vectorhq/vector/model"
)

// Store manages project and workflow persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			ticket_type    TEXT NOT NULL DEFAULT 'bug',
			status         TEXT NOT NULL DEFAULT 'pending',
			repo_config_id TEXT NOT NULL DEFAULT '',
			plan_id        TEXT NOT NULL DEFAULT '',
			issue_number   INTEGER NOT NULL DEFAULT 0,
			issue_url      TEXT NOT NULL DEFAULT '',
			pr_number      INTEGER NOT NULL DEFAULT 0,
			pr_url         TEXT NOT NULL DEFAULT '',
			error          TEXT NOT NULL DEFAULT '',
			created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_projects_status
			ON projects(status);

		CREATE TABLE IF NOT EXISTS plans (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL DEFAULT '',
			version     INTEGER NOT NULL DEFAULT 1,
			approved    INTEGER NOT NULL DEFAULT 0,
			approved_at DATETIME,
			created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_plans_project_id
			ON plans(project_id);

		CREATE TABLE IF NOT EXISTS repo_configs (
			id            TEXT PRIMARY KEY,
			owner         TEXT NOT NULL,
			repo          TEXT NOT NULL,
			branch        TEXT NOT NULL DEFAULT 'main',
			token         TEXT NOT NULL DEFAULT '',
			test_command  TEXT NOT NULL DEFAULT '',
			build_command TEXT NOT NULL DEFAULT '',
			lint_command  TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS execution_logs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id TEXT NOT NULL,
			step_name  TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			level      TEXT NOT NULL DEFAULT 'info',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (project_id) REFERENCES projects(id)
		);

		CREATE INDEX IF NOT EXISTS idx_execution_logs_project_id
			ON execution_logs(project_id);

		CREATE TABLE IF NOT EXISTS feedback (
			id         TEXT PRIMARY KEY,
			source     TEXT NOT NULL DEFAULT '',
			summary    TEXT NOT NULL,
			raw        TEXT NOT NULL DEFAULT '',
			project_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Projects ---

// CreateProject inserts a new project.
func (s *Store) CreateProject(p *model.Project) error {
	_, err := s.db.Exec(
		`INSERT INTO projects (id, title, description, ticket_type, status, repo_config_id,
		                       plan_id, issue_number, issue_url, pr_number, pr_url, error,
		                       created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.TicketType, p.Status, p.RepoConfigID,
		p.PlanID, p.IssueNumber, p.IssueURL, p.PRNumber, p.PRURL, p.Error,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*model.Project, error) {
	row := s.db.QueryRow(
		`SELECT id, title, description, ticket_type, status, repo_config_id, plan_id,
		        issue_number, issue_url, pr_number, pr_url, error, created_at, updated_at
		 FROM projects WHERE id = ?`, id,
	)
	return scanProject(row)
}

// ListProjects returns all projects ordered by creation time (newest first).
func (s *Store) ListProjects() ([]*model.Project, error) {
	return s.queryProjects(
		`SELECT id, title, description, ticket_type, status, repo_config_id, plan_id,
		        issue_number, issue_url, pr_number, pr_url, error, created_at, updated_at
		 FROM projects ORDER BY created_at DESC`,
	)
}

// ListProjectsByStatus returns projects in the given status, oldest first,
// so the poller processes them in arrival order.
func (s *Store) ListProjectsByStatus(status model.Status) ([]*model.Project, error) {
	return s.queryProjects(
		`SELECT id, title, description, ticket_type, status, repo_config_id, plan_id,
		        issue_number, issue_url, pr_number, pr_url, error, created_at, updated_at
		 FROM projects WHERE status = ? ORDER BY created_at ASC`,
		status,
	)
}

func (s *Store) queryProjects(query string, args ...any) ([]*model.Project, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject updates mutable fields of a project.
func (s *Store) UpdateProject(p *model.Project) error {
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE projects SET
			title = ?, description = ?, ticket_type = ?, status = ?, plan_id = ?,
			issue_number = ?, issue_url = ?, pr_number = ?, pr_url = ?, error = ?,
			updated_at = ?
		 WHERE id = ?`,
		p.Title, p.Description, p.TicketType, p.Status, p.PlanID,
		p.IssueNumber, p.IssueURL, p.PRNumber, p.PRURL, p.Error,
		p.UpdatedAt, p.ID,
	)
	return err
}

// --- Plans ---

// CreatePlan inserts a new plan.
func (s *Store) CreatePlan(p *model.Plan) error {
	_, err := s.db.Exec(
		`INSERT INTO plans (id, project_id, title, content, version, approved, approved_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.Title, p.Content, p.Version, boolToInt(p.Approved),
		nullTime(p.ApprovedAt), p.CreatedAt,
	)
	return err
}

// GetPlan retrieves a plan by ID.
func (s *Store) GetPlan(id string) (*model.Plan, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, title, content, version, approved, approved_at, created_at
		 FROM plans WHERE id = ?`, id,
	)
	return scanPlan(row)
}

// GetLatestPlan retrieves the newest plan version for a project.
func (s *Store) GetLatestPlan(projectID string) (*model.Plan, error) {
	row := s.db.QueryRow(
		`SELECT id, project_id, title, content, version, approved, approved_at, created_at
		 FROM plans
		 WHERE project_id = ?
		 ORDER BY version DESC
		 LIMIT 1`, projectID,
	)
	return scanPlan(row)
}

// UpdatePlan updates mutable fields of a plan.
func (s *Store) UpdatePlan(p *model.Plan) error {
	_, err := s.db.Exec(
		`UPDATE plans SET title = ?, content = ?, approved = ?, approved_at = ? WHERE id = ?`,
		p.Title, p.Content, boolToInt(p.Approved), nullTime(p.ApprovedAt), p.ID,
	)
	return err
}

// --- Repo configs ---

// CreateRepoConfig inserts a repo config. Existing rows with the same id
// are replaced so that config-file reseeding at startup is idempotent.
func (s *Store) CreateRepoConfig(rc *model.RepoConfig) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO repo_configs
			(id, owner, repo, branch, token, test_command, build_command, lint_command,
			 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.Owner, rc.Repo, rc.Branch, rc.Token,
		rc.TestCommand, rc.BuildCommand, rc.LintCommand,
		rc.CreatedAt, rc.UpdatedAt,
	)
	return err
}

// GetRepoConfig retrieves a repo config by ID.
func (s *Store) GetRepoConfig(id string) (*model.RepoConfig, error) {
	row := s.db.QueryRow(
		`SELECT id, owner, repo, branch, token, test_command, build_command, lint_command,
		        created_at, updated_at
		 FROM repo_configs WHERE id = ?`, id,
	)
	return scanRepoConfig(row)
}

// ListRepoConfigs returns all repo configs.
func (s *Store) ListRepoConfigs() ([]*model.RepoConfig, error) {
	rows, err := s.db.Query(
		`SELECT id, owner, repo, branch, token, test_command, build_command, lint_command,
		        created_at, updated_at
		 FROM repo_configs ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*model.RepoConfig
	for rows.Next() {
		rc, err := scanRepoConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, rc)
	}
	return configs, rows.Err()
}

// --- Execution logs ---

// AddExecutionLog inserts a log entry and fills in its ID.
func (s *Store) AddExecutionLog(l *model.ExecutionLog) error {
	result, err := s.db.Exec(
		`INSERT INTO execution_logs (project_id, step_name, message, level, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		l.ProjectID, l.StepName, l.Message, l.Level, l.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = id
	return nil
}

// GetExecutionLogs returns log entries for a project, optionally after a given ID.
func (s *Store) GetExecutionLogs(projectID string, afterID int64) ([]*model.ExecutionLog, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, step_name, message, level, created_at
		 FROM execution_logs
		 WHERE project_id = ? AND id > ?
		 ORDER BY id ASC`,
		projectID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*model.ExecutionLog
	for rows.Next() {
		l := &model.ExecutionLog{}
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.StepName, &l.Message, &l.Level, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Feedback ---

// CreateFeedback inserts a feedback record.
func (s *Store) CreateFeedback(f *model.Feedback) error {
	_, err := s.db.Exec(
		`INSERT INTO feedback (id, source, summary, raw, project_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Source, f.Summary, f.Raw, f.ProjectID, f.CreatedAt,
	)
	return err
}

// ListFeedback returns all feedback ordered by creation time (newest first).
func (s *Store) ListFeedback() ([]*model.Feedback, error) {
	rows, err := s.db.Query(
		`SELECT id, source, summary, raw, project_id, created_at
		 FROM feedback ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fbs []*model.Feedback
	for rows.Next() {
		f := &model.Feedback{}
		if err := rows.Scan(&f.ID, &f.Source, &f.Summary, &f.Raw, &f.ProjectID, &f.CreatedAt); err != nil {
			return nil, err
		}
		fbs = append(fbs, f)
	}
	return fbs, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanProject(row scannable) (*model.Project, error) {
	p := &model.Project{}
	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.TicketType, &p.Status, &p.RepoConfigID,
		&p.PlanID, &p.IssueNumber, &p.IssueURL, &p.PRNumber, &p.PRURL, &p.Error,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scanPlan(row scannable) (*model.Plan, error) {
	p := &model.Plan{}
	var approved int
	var approvedAt sql.NullTime
	err := row.Scan(&p.ID, &p.ProjectID, &p.Title, &p.Content, &p.Version, &approved, &approvedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Approved = approved != 0
	if approvedAt.Valid {
		p.ApprovedAt = approvedAt.Time
	}
	return p, nil
}

func scanRepoConfig(row scannable) (*model.RepoConfig, error) {
	rc := &model.RepoConfig{}
	err := row.Scan(
		&rc.ID, &rc.Owner, &rc.Repo, &rc.Branch, &rc.Token,
		&rc.TestCommand, &rc.BuildCommand, &rc.LintCommand,
		&rc.CreatedAt, &rc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
