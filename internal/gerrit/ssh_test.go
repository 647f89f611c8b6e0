package gerrit

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.output), nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestSSHServiceChangesetsCommand(t *testing.T) {
	runner := &fakeRunner{output: `{"id": "Iaaa", "createdOn": 1, "sortKey": "001"}
{"type": "stats", "rowCount": 1}
`}
	svc := NewSSHService(SSHConfig{
		Host:       "review.example.org",
		User:       "mirror",
		QueryLimit: 100,
	}, testLogger())
	svc.runner = runner

	page, err := svc.Changesets(context.Background(), "docs/website", "")
	require.NoError(t, err)
	assert.Equal(t, 1, page.RowCount)
	require.Len(t, page.Records, 1)

	require.Len(t, runner.calls, 1)
	call := strings.Join(runner.calls[0], " ")
	assert.Contains(t, call, "ssh -p 29418 mirror@review.example.org gerrit query")
	assert.Contains(t, call, "--current-patch-set")
	assert.Contains(t, call, "--all-approvals")
	assert.Contains(t, call, "--files")
	assert.Contains(t, call, "--comments")
	assert.Contains(t, call, "--commit-message")
	assert.Contains(t, call, "--dependencies")
	assert.Contains(t, call, "--submit-records")
	assert.Contains(t, call, "project:docs/website")
	assert.Contains(t, call, "limit:100")
	assert.NotContains(t, call, "resume_sortkey")
}

func TestSSHServiceChangesetsResume(t *testing.T) {
	runner := &fakeRunner{output: `{"type": "stats", "rowCount": 0}
`}
	svc := NewSSHService(SSHConfig{Host: "review.example.org"}, testLogger())
	svc.runner = runner

	_, err := svc.Changesets(context.Background(), "p", "0028f415")
	require.NoError(t, err)
	call := strings.Join(runner.calls[0], " ")
	assert.Contains(t, call, "resume_sortkey:0028f415")
}

func TestSSHServiceProjects(t *testing.T) {
	runner := &fakeRunner{output: `{"p1": {"description": "one"}, "p2": {"description": "two", "parent": "p1"}}`}
	svc := NewSSHService(SSHConfig{Host: "review.example.org"}, testLogger())
	svc.runner = runner

	projects, err := svc.Projects(context.Background())
	require.NoError(t, err)
	assert.Len(t, projects, 2)

	call := strings.Join(runner.calls[0], " ")
	assert.Contains(t, call, "gerrit ls-projects --format JSON --description --tree --type all --all")
}

func TestSSHServiceDefaults(t *testing.T) {
	svc := NewSSHService(SSHConfig{Host: "h"}, testLogger())
	assert.Equal(t, 29418, svc.port)
	assert.Equal(t, 500, svc.QueryLimit())
	assert.Equal(t, "SSH", svc.Name())
	assert.Equal(t, "h", svc.Host())
}

func TestSSHServiceKeyFile(t *testing.T) {
	svc := NewSSHService(SSHConfig{Host: "h", KeyFile: "/etc/mirror/id_ed25519"}, testLogger())
	args := svc.sshArgs("gerrit", "version")
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-i /etc/mirror/id_ed25519")
}
