package coordinator

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fl-sean03/agentgate/internal/core"
	"github.com/fl-sean03/agentgate/internal/vcs"
)

// Provisioner materializes a Workspace on disk from a WorkspaceSource
// (spec.md §4.9 step 1: "local path, git clone, fresh-from-template,
// GitHub existing or new"), grounded on the git-plumbing style of
// internal/adapters/git/worktree.go (os/exec git invocations, path
// normalization) generalized from worktree-per-task to workspace-per-run.
type Provisioner struct {
	// BaseDir is the root under which fresh/github-cloned workspaces are
	// materialized when the source does not name an explicit destination.
	BaseDir string
	GitHub  *vcs.GitHubClient // optional; required only for github sources
}

// NewProvisioner creates a Provisioner rooted at baseDir.
func NewProvisioner(baseDir string, gh *vcs.GitHubClient) *Provisioner {
	return &Provisioner{BaseDir: baseDir, GitHub: gh}
}

// Provision materializes source on disk and returns a ready Workspace
// record.
func (p *Provisioner) Provision(ctx context.Context, source core.WorkspaceSource) (*core.Workspace, error) {
	if err := source.Validate(); err != nil {
		return nil, err
	}

	var rootPath string
	var gitInitialized bool
	var err error

	switch source.Type {
	case core.SourceLocalPath:
		rootPath = source.LocalPath
		if _, statErr := os.Stat(rootPath); statErr != nil {
			return nil, core.ErrWorkspace("WORKSPACE_PATH_MISSING", "local workspace path does not exist: "+rootPath)
		}
		gitInitialized = p.isGitRepo(rootPath)

	case core.SourceGitURL:
		rootPath = p.destFor(source.GitURL)
		if err = p.gitClone(ctx, source.GitURL, source.GitBranch, rootPath); err != nil {
			return nil, err
		}
		gitInitialized = true

	case core.SourceFreshTemplate:
		rootPath = source.DestPath
		if err = os.MkdirAll(rootPath, 0o750); err != nil {
			return nil, core.ErrWorkspace("WORKSPACE_MKDIR_FAILED", err.Error()).WithCause(err)
		}
		if err = p.materializeTemplate(rootPath, source.TemplateName); err != nil {
			return nil, err
		}
		if err = p.gitInit(ctx, rootPath); err != nil {
			return nil, err
		}
		gitInitialized = true

	case core.SourceGitHubRepo:
		if p.GitHub == nil {
			return nil, core.ErrWorkspace("WORKSPACE_GITHUB_UNCONFIGURED", "no GitHub client configured for github_repo source")
		}
		rootPath = p.destFor(source.GitHubRepo)
		cloneURL := "https://github.com/" + source.GitHubOwner + "/" + source.GitHubRepo + ".git"
		if err = p.gitClone(ctx, cloneURL, "", rootPath); err != nil {
			return nil, err
		}
		gitInitialized = true

	case core.SourceGitHubNewRepo:
		if p.GitHub == nil {
			return nil, core.ErrWorkspace("WORKSPACE_GITHUB_UNCONFIGURED", "no GitHub client configured for github_new_repo source")
		}
		rootPath = p.destFor(source.GitHubRepo)
		if err = os.MkdirAll(rootPath, 0o750); err != nil {
			return nil, core.ErrWorkspace("WORKSPACE_MKDIR_FAILED", err.Error()).WithCause(err)
		}
		if err = p.gitInit(ctx, rootPath); err != nil {
			return nil, err
		}
		gitInitialized = true

	default:
		return nil, core.ErrValidation("WORKSPACE_SOURCE_INVALID", "unknown workspace source type: "+string(source.Type))
	}

	ws := core.NewWorkspace(rootPath, source)
	ws.GitInitialized = gitInitialized
	ws.Status = core.WorkspaceReady
	return ws, nil
}

func (p *Provisioner) destFor(hint string) string {
	name := filepath.Base(strings.TrimSuffix(hint, ".git"))
	return filepath.Join(p.BaseDir, sanitizeDirName(name)+"-"+string(core.NewWorkspaceID()))
}

func sanitizeDirName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "workspace"
	}
	return b.String()
}

func (p *Provisioner) isGitRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func (p *Provisioner) gitClone(ctx context.Context, url, branch, dest string) error {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dest)
	if err := runGit(ctx, "", args...); err != nil {
		return core.ErrWorkspace("WORKSPACE_CLONE_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

func (p *Provisioner) gitInit(ctx context.Context, dir string) error {
	if err := runGit(ctx, dir, "init"); err != nil {
		return core.ErrWorkspace("WORKSPACE_GIT_INIT_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

// materializeTemplate writes a minimal scaffold for the named template.
// Concrete template bodies are an operator-supplied concern; AgentGate
// ships only the empty default so "fresh" workspaces are never empty
// directories with no git identity.
func (p *Provisioner) materializeTemplate(dir, templateName string) error {
	readme := "# " + templateName + "\n\nScaffolded workspace.\n"
	if templateName == "" {
		readme = "# workspace\n"
	}
	return os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o640)
}

func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Run()
}

// gitHeadSha returns the current HEAD commit sha, or "" in a repo with no
// commits yet.
func gitHeadSha(ctx context.Context, dir string) string {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// captureDiffStat runs git add + diff --stat against the previous commit
// to compute files-changed/insertions/deletions for the snapshot (spec.md
// §4.9 step 4: "onSnapshot runs git plumbing (before SHA, diff stats,
// after SHA)").
func captureDiffStat(ctx context.Context, dir, beforeSha string) (filesChanged, insertions, deletions int, changedPaths []string) {
	_ = exec.CommandContext(ctx, "git", "-C", dir, "add", "-A").Run()

	diffArgs := []string{"-C", dir, "diff", "--cached", "--numstat"}
	if beforeSha != "" {
		diffArgs = []string{"-C", dir, "diff", beforeSha, "--cached", "--numstat"}
	}
	out, err := exec.CommandContext(ctx, "git", diffArgs...).Output()
	if err != nil {
		return 0, 0, 0, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ins, _ := strconv.Atoi(fields[0])
		del, _ := strconv.Atoi(fields[1])
		insertions += ins
		deletions += del
		filesChanged++
		changedPaths = append(changedPaths, fields[2])
	}
	return filesChanged, insertions, deletions, changedPaths
}

// commitIteration commits the working tree (already staged by
// captureDiffStat) so the next iteration has a stable beforeSha.
func commitIteration(ctx context.Context, dir string, iteration int) string {
	_ = exec.CommandContext(ctx, "git", "-C", dir, "-c", "user.email=agentgate@local", "-c", "user.name=agentgate",
		"commit", "--allow-empty", "-m", "iteration "+strconv.Itoa(iteration)).Run()
	return gitHeadSha(ctx, dir)
}
