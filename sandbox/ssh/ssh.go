// Package ssh implements sandbox.Manager by running Docker commands on a
// remote host via SSH. This lets vector provision sandboxes on any VPS or
// cloud Docker host without requiring the Docker daemon to be local.
//
// Usage:
//
//	mgr, err := ssh.New(ssh.Config{
//	    Host:    "vps.example.com:22",
//	    User:    "deploy",
//	    KeyPath: "/home/user/.ssh/id_ed25519",
//	})
//	builder.WithSandboxManager(mgr)
package ssh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/vectorhq/vector/model"
	"github.com/vectorhq/vector/sandbox"
)

const repoDir = "/workspace/repo"

// Config holds SSH connection settings.
type Config struct {
	// Host is the remote host in "host:port" format.
	Host string
	// User is the SSH user.
	User string
	// KeyPath is the path to the SSH private key file.
	KeyPath string
	// DockerBin is the path to docker on the remote host (default "docker").
	DockerBin string
	// Image is the sandbox container image (default "vector-sandbox:latest").
	Image string
	// TTL bounds sandbox lifetime (default sandbox.DefaultTTL).
	TTL time.Duration
}

// Manager implements sandbox.Manager over SSH.
type Manager struct {
	config Config

	mu     sync.Mutex
	active map[string]*remoteSandbox
}

// New creates a new SSH-based sandbox manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh: Host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh: User is required")
	}
	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("ssh: KeyPath is required")
	}
	if _, err := os.Stat(cfg.KeyPath); err != nil {
		return nil, fmt.Errorf("ssh: key file not found: %w", err)
	}
	if cfg.DockerBin == "" {
		cfg.DockerBin = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = "vector-sandbox:latest"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = sandbox.DefaultTTL
	}
	return &Manager{config: cfg, active: make(map[string]*remoteSandbox)}, nil
}

// sshCmd builds an exec.Cmd that runs a command on the remote host via SSH.
func (m *Manager) sshCmd(ctx context.Context, remoteCmd string) *exec.Cmd {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "BatchMode=yes",
		"-i", m.config.KeyPath,
		fmt.Sprintf("%s@%s", m.config.User, m.config.Host),
		remoteCmd,
	}
	return exec.CommandContext(ctx, "ssh", args...)
}

// docker runs a docker command on the remote host and returns combined output.
func (m *Manager) docker(ctx context.Context, args string) (string, error) {
	cmd := m.sshCmd(ctx, m.config.DockerBin+" "+args)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// Create starts a container on the remote host and provisions the repo
// inside it. Partial state (a started container) is removed before a
// *ProvisionError is returned.
func (m *Manager) Create(ctx context.Context, projectID string, rc *model.RepoConfig) (sandbox.Sandbox, error) {
	runArgs := fmt.Sprintf("run -d --name vector-%s --label vector.project=%s --entrypoint sleep %s infinity",
		projectID, projectID, m.config.Image)

	output, err := m.docker(ctx, runArgs)
	if err != nil {
		return nil, &sandbox.ProvisionError{
			ProjectID: projectID, Stage: "container",
			Err: fmt.Errorf("%w\noutput: %s", err, output),
		}
	}
	containerID := strings.TrimSpace(output)

	sb := &remoteSandbox{
		mgr:         m,
		containerID: containerID,
		projectID:   projectID,
		branch:      sandbox.BranchName(projectID),
		expiresAt:   time.Now().Add(m.config.TTL),
	}

	if err := m.provision(ctx, sb, rc); err != nil {
		m.removeContainer(containerID)
		return nil, err
	}

	m.mu.Lock()
	m.active[projectID] = sb
	m.mu.Unlock()

	log.Printf("sandbox: provisioned remote container %s for project %s (branch %s)",
		shortID(containerID), projectID, sb.branch)
	return sb, nil
}

func (m *Manager) provision(ctx context.Context, sb *remoteSandbox, rc *model.RepoConfig) error {
	fail := func(stage string, err error) error {
		return &sandbox.ProvisionError{ProjectID: sb.projectID, Stage: stage, Err: err}
	}

	cloneArgs := []string{"git", "clone", "--depth", "1"}
	if rc.Branch != "" {
		cloneArgs = append(cloneArgs, "--branch", rc.Branch)
	}
	cloneArgs = append(cloneArgs, sandbox.CloneURL(rc), repoDir)
	if _, err := sb.execIn(ctx, "/workspace", cloneArgs); err != nil {
		return fail("clone", err)
	}

	steps := [][]string{
		{"git", "checkout", "-b", sb.branch},
		{"git", "config", "user.name", sandbox.GitIdentity.Name},
		{"git", "config", "user.email", sandbox.GitIdentity.Email},
	}
	for _, argv := range steps {
		if _, err := sb.Exec(ctx, argv); err != nil {
			return fail(argv[1], err)
		}
	}

	if _, err := sb.Exec(ctx, []string{"gh", "auth", "setup-git"}); err != nil {
		log.Printf("sandbox: gh auth setup-git failed in container %s: %v", shortID(sb.containerID), err)
	}

	return nil
}

// ReuseIfExists returns the live sandbox for the project, reaping it if
// expired or if the container is no longer running.
func (m *Manager) ReuseIfExists(projectID string) sandbox.Sandbox {
	m.mu.Lock()
	sb, ok := m.active[projectID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if time.Now().After(sb.expiresAt) || !m.isRunning(context.Background(), sb.containerID) {
		log.Printf("sandbox: container for project %s expired or stopped, reaping", projectID)
		m.Cleanup(sb)
		return nil
	}
	return sb
}

// Cleanup kills and removes the container. Best-effort only.
func (m *Manager) Cleanup(sb sandbox.Sandbox) {
	if sb == nil {
		return
	}
	m.mu.Lock()
	delete(m.active, sb.ProjectID())
	m.mu.Unlock()

	if rs, ok := sb.(*remoteSandbox); ok {
		m.removeContainer(rs.containerID)
	}
}

func (m *Manager) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m.docker(ctx, "kill "+containerID)
	if output, err := m.docker(ctx, "rm -f "+containerID); err != nil {
		log.Printf("sandbox: failed to remove container %s: %v\noutput: %s", shortID(containerID), err, output)
	}
}

func (m *Manager) isRunning(ctx context.Context, containerID string) bool {
	output, err := m.docker(ctx, fmt.Sprintf("inspect -f {{.State.Running}} %s", containerID))
	if err != nil {
		return false
	}
	return strings.TrimSpace(output) == "true"
}

// remoteSandbox is a repo checkout inside a remote docker container.
type remoteSandbox struct {
	mgr         *Manager
	containerID string
	projectID   string
	branch      string
	expiresAt   time.Time
}

func (s *remoteSandbox) ID() string        { return s.containerID }
func (s *remoteSandbox) ProjectID() string { return s.projectID }
func (s *remoteSandbox) Branch() string    { return s.branch }
func (s *remoteSandbox) RepoDir() string   { return repoDir }

func (s *remoteSandbox) Exec(ctx context.Context, argv []string) (string, error) {
	return s.execIn(ctx, repoDir, argv)
}

func (s *remoteSandbox) execIn(ctx context.Context, dir string, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}
	remote := fmt.Sprintf("%s exec -w %s %s %s",
		s.mgr.config.DockerBin, dir, s.containerID, quoteArgs(argv))
	cmd := s.mgr.sshCmd(ctx, remote)
	output, err := cmd.CombinedOutput()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		stderr := string(output)
		if ctx.Err() != nil {
			stderr = "timed out: " + stderr
		}
		return "", &sandbox.CommandError{Argv: argv, ExitCode: exitCode, Stderr: stderr}
	}
	return string(output), nil
}

func (s *remoteSandbox) ExecStream(ctx context.Context, argv []string) (sandbox.LineScanner, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	remote := fmt.Sprintf("%s exec -w %s %s %s",
		s.mgr.config.DockerBin, repoDir, s.containerID, quoteArgs(argv))
	cmd := s.mgr.sshCmd(ctx, remote)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("attaching stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting exec: %w", err)
	}

	merged := io.MultiReader(stdout, stderr)
	scanner := bufio.NewScanner(merged)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)

	return &lineScanner{scanner: scanner, cmd: cmd}, nil
}

func (s *remoteSandbox) ReadFile(ctx context.Context, relPath string) (string, error) {
	return s.Exec(ctx, []string{"cat", relPath})
}

func (s *remoteSandbox) WriteFile(ctx context.Context, relPath, content string) error {
	dir := path.Dir(relPath)
	if dir != "." && dir != "/" {
		if _, err := s.Exec(ctx, []string{"mkdir", "-p", dir}); err != nil {
			return err
		}
	}
	remote := fmt.Sprintf("%s exec -w %s -i %s tee %s >/dev/null",
		s.mgr.config.DockerBin, repoDir, s.containerID, quoteArgs([]string{relPath}))
	cmd := s.mgr.sshCmd(ctx, remote)
	cmd.Stdin = strings.NewReader(content)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("writing %s: %w\noutput: %s", relPath, err, output)
	}
	return nil
}

func (s *remoteSandbox) ListFiles(ctx context.Context) ([]string, error) {
	output, err := s.Exec(ctx, []string{"ls", "-1"})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// quoteArgs renders an argument vector for the remote login shell.
// Single quotes suppress all expansion; embedded quotes become '\''.
func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// shortID returns the first 12 characters of an ID.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// lineScanner wraps a bufio.Scanner for reading remote exec output lines.
type lineScanner struct {
	scanner *bufio.Scanner
	cmd     *exec.Cmd
}

func (ls *lineScanner) Scan() bool   { return ls.scanner.Scan() }
func (ls *lineScanner) Text() string { return ls.scanner.Text() }
func (ls *lineScanner) Err() error   { return ls.scanner.Err() }

func (ls *lineScanner) Close() error {
	if ls.cmd.Process != nil {
		_ = ls.cmd.Process.Kill()
	}
	return ls.cmd.Wait()
}
