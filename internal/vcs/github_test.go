package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePR_DecodesFields(t *testing.T) {
	raw := `{"number":42,"url":"https://github.com/o/r/pull/42","state":"OPEN","headRefName":"feature","baseRefName":"main"}`
	pr, err := parsePR(raw)
	require.NoError(t, err)
	assert.Equal(t, 42, pr.Number)
	assert.Equal(t, "open", pr.State)
	assert.Equal(t, "feature", pr.Head)
	assert.Equal(t, "main", pr.Base)
}

func TestParsePR_RejectsMalformedJSON(t *testing.T) {
	_, err := parsePR("not json")
	require.Error(t, err)
}

func TestGitHubClient_Repo(t *testing.T) {
	c := &GitHubClient{owner: "acme", repo: "widgets"}
	info := c.Repo()
	assert.Equal(t, "acme", info.Owner)
	assert.Equal(t, "widgets", info.Name)
}
