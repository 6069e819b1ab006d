// Package vcs implements core.VCSClient as a thin wrapper around the gh
// CLI, used both for PR delivery and by the GitHub Actions gate's check
// polling.
package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fl-sean03/agentgate/internal/core"
)

// GitHubClient wraps the gh CLI, grounded on
// internal/adapters/github/client.go's run/CreatePR/GetPR pattern,
// generalized to implement core.VCSClient and extended with ListChecks
// for the GitHub Actions gate (spec.md §4.5).
type GitHubClient struct {
	owner   string
	repo    string
	timeout time.Duration
}

// NewGitHubClient creates a client for owner/repo and verifies gh is
// authenticated.
func NewGitHubClient(owner, repo string) (*GitHubClient, error) {
	c := &GitHubClient{owner: owner, repo: repo, timeout: 60 * time.Second}
	if err := exec.Command("gh", "auth", "status").Run(); err != nil {
		return nil, core.ErrValidation("GH_NOT_AUTHENTICATED", "gh CLI is not authenticated, run 'gh auth login'")
	}
	return c, nil
}

func (c *GitHubClient) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrGithub("gh command timed out: " + strings.Join(args, " "))
		}
		return "", core.ErrGithub(fmt.Sprintf("gh %s: %s", strings.Join(args, " "), stderr.String())).WithCause(err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Repo returns the wrapped repository identity.
func (c *GitHubClient) Repo() core.RepoInfo {
	return core.RepoInfo{Owner: c.owner, Name: c.repo}
}

func (c *GitHubClient) repoFlag() string {
	return fmt.Sprintf("%s/%s", c.owner, c.repo)
}

// CreatePR opens a pull request via `gh pr create`.
func (c *GitHubClient) CreatePR(ctx context.Context, opts core.CreatePROptions) (*core.PullRequest, error) {
	args := []string{"pr", "create",
		"--repo", c.repoFlag(),
		"--title", opts.Title,
		"--body", opts.Body,
		"--base", opts.Base,
		"--head", opts.Head,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return c.getPRByURL(ctx, output)
}

// GetPR retrieves a PR by number.
func (c *GitHubClient) GetPR(ctx context.Context, number int) (*core.PullRequest, error) {
	output, err := c.run(ctx, "pr", "view", fmt.Sprintf("%d", number),
		"--repo", c.repoFlag(),
		"--json", "number,url,state,headRefName,baseRefName")
	if err != nil {
		return nil, err
	}
	return parsePR(output)
}

func (c *GitHubClient) getPRByURL(ctx context.Context, url string) (*core.PullRequest, error) {
	output, err := c.run(ctx, "pr", "view", url, "--json", "number,url,state,headRefName,baseRefName")
	if err != nil {
		return nil, err
	}
	return parsePR(output)
}

func parsePR(output string) (*core.PullRequest, error) {
	var raw struct {
		Number      int    `json:"number"`
		URL         string `json:"url"`
		State       string `json:"state"`
		HeadRefName string `json:"headRefName"`
		BaseRefName string `json:"baseRefName"`
	}
	if err := json.Unmarshal([]byte(output), &raw); err != nil {
		return nil, core.ErrGithub("failed to parse gh pr view output").WithCause(err)
	}
	return &core.PullRequest{
		Number: raw.Number,
		URL:    raw.URL,
		State:  strings.ToLower(raw.State),
		Head:   raw.HeadRefName,
		Base:   raw.BaseRefName,
	}, nil
}

// workflowRun is one entry of `gh api .../actions/runs`.
type workflowRun struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadSHA    string `json:"head_sha"`
}

type workflowRunsResponse struct {
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

// ListChecks polls GitHub Actions runs for headSha via `gh api`, grounded
// on spec.md §4.5's "polls workflow_runs?head_sha={afterSha}" GitHub
// Actions gate contract.
func (c *GitHubClient) ListChecks(ctx context.Context, headSha string) ([]core.CheckStatus, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/actions/runs?head_sha=%s", c.owner, c.repo, headSha)
	output, err := c.run(ctx, "api", endpoint)
	if err != nil {
		return nil, err
	}

	var resp workflowRunsResponse
	if err := json.Unmarshal([]byte(output), &resp); err != nil {
		return nil, core.ErrGithub("failed to parse gh api workflow runs output").WithCause(err)
	}

	checks := make([]core.CheckStatus, 0, len(resp.WorkflowRuns))
	for _, r := range resp.WorkflowRuns {
		checks = append(checks, core.CheckStatus{
			Name:       r.Name,
			Status:     r.Status,
			Conclusion: r.Conclusion,
		})
	}
	return checks, nil
}

var _ core.VCSClient = (*GitHubClient)(nil)
