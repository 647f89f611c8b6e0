package gerrit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/reviewsync/reviewsync-go/internal/errors"
)

// xssiPrefix guards Gerrit's REST responses against cross-site script
// inclusion and must be stripped before decoding.
var xssiPrefix = []byte(")]}'")

// HTTPService talks to Gerrit's REST interface. It covers the project
// listing for instances that close port 29418; the changeset query is only
// available over SSH.
type HTTPService struct {
	baseURL    string
	username   string
	password   string
	queryLimit int
	client     *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// HTTPConfig carries the connection settings for an HTTPService.
type HTTPConfig struct {
	BaseURL    string
	Username   string
	Password   string
	QueryLimit int
	Timeout    time.Duration
}

func NewHTTPService(cfg HTTPConfig, logger *logrus.Logger) *HTTPService {
	limit := cfg.QueryLimit
	if limit == 0 {
		limit = 500
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		queryLimit: limit,
		client:     &http.Client{Timeout: timeout},
		// Stay well under typical reverse-proxy rate limits.
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
}

func (s *HTTPService) Name() string    { return "HTTP" }
func (s *HTTPService) QueryLimit() int { return s.queryLimit }

func (s *HTTPService) Host() string {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL
	}
	return u.Host
}

// get fetches one REST path with the XSSI prefix stripped, retrying
// transient failures with exponential backoff.
func (s *HTTPService) get(ctx context.Context, path string) ([]byte, error) {
	var body []byte

	operation := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if s.username != "" {
			req.SetBasicAuth(s.username, s.password)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("gerrit returned HTTP %d for %s", resp.StatusCode, path)
		default:
			return backoff.Permanent(fmt.Errorf("gerrit returned HTTP %d for %s", resp.StatusCode, path))
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	notify := func(err error, wait time.Duration) {
		s.logger.WithFields(logrus.Fields{
			"path":  path,
			"wait":  wait,
			"error": err,
		}).Warn("Retrying Gerrit REST request")
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, errors.Transportf(err, "REST request %s failed on %s", path, s.Host())
	}

	return bytes.TrimPrefix(bytes.TrimSpace(body), xssiPrefix), nil
}

// Projects lists every project visible on the instance.
func (s *HTTPService) Projects(ctx context.Context) ([]ProjectRecord, error) {
	body, err := s.get(ctx, "/projects/?format=JSON&description&type=all&all&tree")
	if err != nil {
		return nil, err
	}
	return DecodeProjectList(body)
}

// Changesets is not available over REST: the endpoint delivers neither
// sort keys nor the nested approval and dependency structure the mirror
// needs, so changeset crawling requires the SSH connector.
func (s *HTTPService) Changesets(ctx context.Context, project, resumeKey string) (*QueryPage, error) {
	return nil, errors.Transport(nil,
		"changeset queries are not supported over HTTP; configure the SSH connector")
}
