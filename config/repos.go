package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vectorhq/vector/model"
)

// reposFile is the YAML shape of the repo config seed file:
//
//	repos:
//	  - id: myapp
//	    owner: acme
//	    repo: myapp
//	    branch: main
//	    test_command: "npm test"
type reposFile struct {
	Repos []repoEntry `yaml:"repos"`
}

type repoEntry struct {
	ID           string `yaml:"id"`
	Owner        string `yaml:"owner"`
	Repo         string `yaml:"repo"`
	Branch       string `yaml:"branch"`
	Token        string `yaml:"token"`
	TestCommand  string `yaml:"test_command"`
	BuildCommand string `yaml:"build_command"`
	LintCommand  string `yaml:"lint_command"`
}

// LoadRepoConfigs parses the YAML seed file into repo configs. Entries
// without a token inherit fallbackToken.
func LoadRepoConfigs(path, fallbackToken string) ([]*model.RepoConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading repos file: %w", err)
	}

	var rf reposFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing repos file: %w", err)
	}

	now := time.Now().UTC()
	configs := make([]*model.RepoConfig, 0, len(rf.Repos))
	for i, entry := range rf.Repos {
		if entry.Owner == "" || entry.Repo == "" {
			return nil, fmt.Errorf("repos[%d]: owner and repo are required", i)
		}
		id := entry.ID
		if id == "" {
			id = entry.Owner + "-" + entry.Repo
		}
		token := entry.Token
		if token == "" {
			token = fallbackToken
		}
		branch := entry.Branch
		if branch == "" {
			branch = "main"
		}
		configs = append(configs, &model.RepoConfig{
			ID:           id,
			Owner:        entry.Owner,
			Repo:         entry.Repo,
			Branch:       branch,
			Token:        token,
			TestCommand:  entry.TestCommand,
			BuildCommand: entry.BuildCommand,
			LintCommand:  entry.LintCommand,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return configs, nil
}
