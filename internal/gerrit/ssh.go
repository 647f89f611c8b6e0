package gerrit

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// commandRunner executes a remote command and returns its stdout. Tests
// substitute a fake; production uses the local ssh binary so the operator's
// agent and known_hosts configuration apply unchanged.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr strings.Builder
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// SSHService talks to Gerrit's SSH command interface. It is the primary
// connector: the SSH query command delivers the full nested changeset
// structure in one round trip per page.
type SSHService struct {
	host       string
	port       int
	user       string
	keyFile    string
	queryLimit int
	runner     commandRunner
	logger     *logrus.Logger
}

// SSHConfig carries the connection settings for an SSHService.
type SSHConfig struct {
	Host       string
	Port       int
	User       string
	KeyFile    string
	QueryLimit int
}

func NewSSHService(cfg SSHConfig, logger *logrus.Logger) *SSHService {
	port := cfg.Port
	if port == 0 {
		port = 29418
	}
	limit := cfg.QueryLimit
	if limit == 0 {
		limit = 500
	}
	return &SSHService{
		host:       cfg.Host,
		port:       port,
		user:       cfg.User,
		keyFile:    cfg.KeyFile,
		queryLimit: limit,
		runner:     execRunner{},
		logger:     logger,
	}
}

func (s *SSHService) Name() string    { return "SSH" }
func (s *SSHService) Host() string    { return s.host }
func (s *SSHService) QueryLimit() int { return s.queryLimit }

// sshArgs builds the local ssh invocation for one remote gerrit command.
func (s *SSHService) sshArgs(remote ...string) []string {
	args := []string{"-p", strconv.Itoa(s.port)}
	if s.keyFile != "" {
		args = append(args, "-i", s.keyFile)
	}
	target := s.host
	if s.user != "" {
		target = s.user + "@" + s.host
	}
	args = append(args, target)
	return append(args, remote...)
}

func (s *SSHService) run(ctx context.Context, remote ...string) ([]byte, error) {
	s.logger.WithFields(logrus.Fields{
		"host":    s.host,
		"command": strings.Join(remote, " "),
	}).Debug("Executing remote Gerrit command")

	out, err := s.runner.Run(ctx, "ssh", s.sshArgs(remote...)...)
	if err != nil {
		return nil, errors.Transportf(err, "ssh command failed on %s", s.host)
	}
	return out, nil
}

// Projects lists every project visible to the connecting account.
func (s *SSHService) Projects(ctx context.Context) ([]ProjectRecord, error) {
	out, err := s.run(ctx, "gerrit", "ls-projects",
		"--format", "JSON", "--description", "--tree", "--type", "all", "--all")
	if err != nil {
		return nil, err
	}
	return DecodeProjectList(out)
}

// Changesets fetches one page of changesets for a project, newest first,
// resuming after resumeKey when it is set.
func (s *SSHService) Changesets(ctx context.Context, project, resumeKey string) (*QueryPage, error) {
	remote := []string{
		"gerrit", "query",
		"--format", "JSON",
		"--current-patch-set",
		"--all-approvals",
		"--files",
		"--comments",
		"--commit-message",
		"--dependencies",
		"--submit-records",
		"project:" + project,
		"limit:" + strconv.Itoa(s.queryLimit),
	}
	if resumeKey != "" {
		remote = append(remote, "resume_sortkey:"+resumeKey)
	}

	out, err := s.run(ctx, remote...)
	if err != nil {
		return nil, err
	}
	page, err := parseQueryOutput(out)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"project":   project,
		"row_count": page.RowCount,
		"resumed":   resumeKey != "",
	}).Debug("Fetched changeset page")
	return page, nil
}
