// Package store defines the persistence interface for vector.
package store

import "github.com/vectorhq/vector/model"

// Store persists projects, plans, repo configs, execution logs and feedback.
// Implementations must be safe for concurrent use.
type Store interface {
	CreateProject(p *model.Project) error
	GetProject(id string) (*model.Project, error)
	ListProjects() ([]*model.Project, error)
	ListProjectsByStatus(status model.Status) ([]*model.Project, error)
	UpdateProject(p *model.Project) error

	CreatePlan(p *model.Plan) error
	GetPlan(id string) (*model.Plan, error)
	GetLatestPlan(projectID string) (*model.Plan, error)
	UpdatePlan(p *model.Plan) error

	CreateRepoConfig(rc *model.RepoConfig) error
	GetRepoConfig(id string) (*model.RepoConfig, error)
	ListRepoConfigs() ([]*model.RepoConfig, error)

	AddExecutionLog(l *model.ExecutionLog) error
	GetExecutionLogs(projectID string, afterID int64) ([]*model.ExecutionLog, error)

	CreateFeedback(f *model.Feedback) error
	ListFeedback() ([]*model.Feedback, error)

	Close() error
}
