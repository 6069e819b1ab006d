package core

import "time"

// WorkspaceSourceType discriminates the WorkspaceSource tagged union
// (spec.md §3, §9 design note: tagged unions over inheritance).
type WorkspaceSourceType string

const (
	SourceLocalPath     WorkspaceSourceType = "local"
	SourceGitURL        WorkspaceSourceType = "git_url"
	SourceFreshTemplate WorkspaceSourceType = "fresh"
	SourceGitHubRepo    WorkspaceSourceType = "github_repo"
	SourceGitHubNewRepo WorkspaceSourceType = "github_new_repo"
)

// WorkspaceSource is a discriminated union over how a workspace is
// provisioned. Only the field(s) matching Type are meaningful.
type WorkspaceSource struct {
	Type WorkspaceSourceType `json:"type"`

	// SourceLocalPath
	LocalPath string `json:"localPath,omitempty"`

	// SourceGitURL
	GitURL    string `json:"gitUrl,omitempty"`
	GitBranch string `json:"gitBranch,omitempty"`

	// SourceFreshTemplate
	DestPath     string `json:"destPath,omitempty"`
	TemplateName string `json:"templateName,omitempty"`

	// SourceGitHubRepo / SourceGitHubNewRepo
	GitHubOwner string `json:"githubOwner,omitempty"`
	GitHubRepo  string `json:"githubRepo,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// Validate checks the source's discriminant-required fields.
func (s WorkspaceSource) Validate() error {
	switch s.Type {
	case SourceLocalPath:
		if s.LocalPath == "" {
			return ErrValidation("WORKSPACE_SOURCE_INVALID", "localPath required for local source")
		}
	case SourceGitURL:
		if s.GitURL == "" {
			return ErrValidation("WORKSPACE_SOURCE_INVALID", "gitUrl required for git_url source")
		}
	case SourceFreshTemplate:
		if s.DestPath == "" {
			return ErrValidation("WORKSPACE_SOURCE_INVALID", "destPath required for fresh source")
		}
	case SourceGitHubRepo, SourceGitHubNewRepo:
		if s.GitHubOwner == "" || s.GitHubRepo == "" {
			return ErrValidation("WORKSPACE_SOURCE_INVALID", "githubOwner and githubRepo required for github sources")
		}
	default:
		return ErrValidation("WORKSPACE_SOURCE_INVALID", "unknown workspace source type: "+string(s.Type))
	}
	return nil
}

// WorkspaceStatus is the provisioning/lifecycle status of a Workspace.
type WorkspaceStatus string

const (
	WorkspaceProvisioning WorkspaceStatus = "provisioning"
	WorkspaceReady        WorkspaceStatus = "ready"
	WorkspaceDestroyed    WorkspaceStatus = "destroyed"
	WorkspaceError        WorkspaceStatus = "error"
)

// Workspace is a provisioned filesystem root backing a run (spec.md §3).
// Invariant: RootPath exists and passes path-policy once Status is Ready.
type Workspace struct {
	ID             WorkspaceID     `json:"id"`
	RootPath       string          `json:"rootPath"`
	Source         WorkspaceSource `json:"source"`
	GitInitialized bool            `json:"gitInitialized"`
	Status         WorkspaceStatus `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewWorkspace creates a workspace record in the provisioning state.
func NewWorkspace(rootPath string, source WorkspaceSource) *Workspace {
	return &Workspace{
		ID:        NewWorkspaceID(),
		RootPath:  rootPath,
		Source:    source,
		Status:    WorkspaceProvisioning,
		CreatedAt: time.Now().UTC(),
	}
}
