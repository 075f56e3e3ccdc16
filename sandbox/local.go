package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/vectorhq/vector/model"
)

// LocalManager provisions sandboxes as directories on the local machine,
// running commands as subprocesses. It is the development backend; the
// SSH-driven docker backend provides the same contract for production.
type LocalManager struct {
	baseDir string
	ttl     time.Duration

	mu     sync.Mutex
	active map[string]*localSandbox
}

// NewLocalManager creates a manager that provisions under baseDir.
func NewLocalManager(baseDir string, ttl time.Duration) *LocalManager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalManager{
		baseDir: baseDir,
		ttl:     ttl,
		active:  make(map[string]*localSandbox),
	}
}

// Create provisions a workspace: shallow clone, feature branch, commit
// identity, gh CLI credentials. Any failure tears down the partial
// workspace before returning a *ProvisionError.
func (m *LocalManager) Create(ctx context.Context, projectID string, rc *model.RepoConfig) (Sandbox, error) {
	workdir := filepath.Join(m.baseDir, "sandbox-"+NewWorkspaceID())
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return nil, &ProvisionError{ProjectID: projectID, Stage: "workdir", Err: err}
	}

	sb := &localSandbox{
		projectID: projectID,
		workdir:   workdir,
		repoDir:   filepath.Join(workdir, "repo"),
		branch:    BranchName(projectID),
		expiresAt: time.Now().Add(m.ttl),
	}

	if err := m.provision(ctx, sb, rc); err != nil {
		m.teardown(sb)
		return nil, err
	}

	m.mu.Lock()
	m.active[projectID] = sb
	m.mu.Unlock()

	log.Printf("sandbox: provisioned local workspace %s for project %s (branch %s)",
		workdir, projectID, sb.branch)
	return sb, nil
}

func (m *LocalManager) provision(ctx context.Context, sb *localSandbox, rc *model.RepoConfig) error {
	fail := func(stage string, err error) error {
		return &ProvisionError{ProjectID: sb.projectID, Stage: stage, Err: err}
	}

	cloneArgs := []string{"clone", "--depth", "1"}
	if rc.Branch != "" {
		cloneArgs = append(cloneArgs, "--branch", rc.Branch)
	}
	cloneArgs = append(cloneArgs, CloneURL(rc), sb.repoDir)
	if _, err := execLocal(ctx, sb.workdir, append([]string{"git"}, cloneArgs...)); err != nil {
		return fail("clone", err)
	}

	steps := [][]string{
		{"git", "checkout", "-b", sb.branch},
		{"git", "config", "user.name", GitIdentity.Name},
		{"git", "config", "user.email", GitIdentity.Email},
	}
	for _, argv := range steps {
		if _, err := execLocal(ctx, sb.repoDir, argv); err != nil {
			return fail(argv[1], err)
		}
	}

	// Point gh and git credential helpers at the token so pushes work
	// without an interactive login. Failure here is non-fatal when the
	// clone URL already embeds the token.
	if _, err := execLocal(ctx, sb.repoDir, []string{"gh", "auth", "setup-git"}); err != nil {
		log.Printf("sandbox: gh auth setup-git failed for project %s: %v", sb.projectID, err)
	}

	return nil
}

// ReuseIfExists returns the live sandbox for the project, reaping it
// instead if its TTL has passed.
func (m *LocalManager) ReuseIfExists(projectID string) Sandbox {
	m.mu.Lock()
	sb, ok := m.active[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if time.Now().After(sb.expiresAt) {
		log.Printf("sandbox: workspace for project %s expired, reaping", projectID)
		m.Cleanup(sb)
		return nil
	}
	return sb
}

// Cleanup removes the workspace. Best-effort: failures are logged only.
func (m *LocalManager) Cleanup(sb Sandbox) {
	if sb == nil {
		return
	}
	m.mu.Lock()
	delete(m.active, sb.ProjectID())
	m.mu.Unlock()

	if ls, ok := sb.(*localSandbox); ok {
		m.teardown(ls)
	}
}

func (m *LocalManager) teardown(sb *localSandbox) {
	if err := os.RemoveAll(sb.workdir); err != nil {
		log.Printf("sandbox: failed to remove workspace %s: %v", sb.workdir, err)
	}
}

// localSandbox is a workspace directory on the local filesystem.
type localSandbox struct {
	projectID string
	workdir   string
	repoDir   string
	branch    string
	expiresAt time.Time
}

func (s *localSandbox) ID() string        { return s.workdir }
func (s *localSandbox) ProjectID() string { return s.projectID }
func (s *localSandbox) Branch() string    { return s.branch }
func (s *localSandbox) RepoDir() string   { return s.repoDir }

func (s *localSandbox) Exec(ctx context.Context, argv []string) (string, error) {
	return execLocal(ctx, s.repoDir, argv)
}

func (s *localSandbox) ExecStream(ctx context.Context, argv []string) (LineScanner, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.repoDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting command: %w", err)
	}

	merged := io.MultiReader(stdout, stderr)
	scanner := bufio.NewScanner(merged)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	return &processScanner{scanner: scanner, cmd: cmd}, nil
}

func (s *localSandbox) ReadFile(ctx context.Context, relPath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.repoDir, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *localSandbox) WriteFile(ctx context.Context, relPath, content string) error {
	abs := filepath.Join(s.repoDir, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

func (s *localSandbox) ListFiles(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.repoDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// execLocal runs an argument vector in dir and returns stdout. Non-zero
// exits (including context timeouts that kill the process) come back as
// a *CommandError carrying the exit code and captured stderr.
func execLocal(ctx context.Context, dir string, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		stderrText := stderr.String()
		if ctx.Err() != nil {
			stderrText = "timed out: " + stderrText
		}
		return stdout.String(), &CommandError{Argv: argv, ExitCode: exitCode, Stderr: stderrText}
	}
	return stdout.String(), nil
}

// processScanner wraps a bufio.Scanner over a live subprocess.
type processScanner struct {
	scanner *bufio.Scanner
	cmd     *exec.Cmd
}

func (ps *processScanner) Scan() bool   { return ps.scanner.Scan() }
func (ps *processScanner) Text() string { return ps.scanner.Text() }
func (ps *processScanner) Err() error   { return ps.scanner.Err() }

func (ps *processScanner) Close() error {
	if ps.cmd.Process != nil {
		_ = ps.cmd.Process.Kill()
	}
	return ps.cmd.Wait()
}
