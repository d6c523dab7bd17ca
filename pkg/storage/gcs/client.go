package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

const (
	storageEndpoint = "https://storage.googleapis.com"
	pingTimeout     = 5 * time.Second
	retryInterval   = 100 * time.Millisecond

	// Ticket files are PDFs of a few hundred KB; anything past this is not a ticket.
	maxObjectSize = 25 << 20
)

// Client reads ticket files from the configured bucket over the JSON API.
type Client struct {
	httpClient  *http.Client
	bucket      string
	endpoint    string
	tokenSource *tokenSource
	maxRetries  uint64
	interval    time.Duration
}

// NewClient picks credentials in order: inline JSON, credentials file, then
// the metadata server. It lists one object to prove bucket access.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	ts, err := credentials(httpClient, gcp)
	if err != nil {
		return nil, err
	}

	client := newClient(httpClient, cfg.BucketName, storageEndpoint, ts)
	client.maxRetries = cfg.MaxRetries
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

func credentials(httpClient *http.Client, gcp config.GCPConfig) (*tokenSource, error) {
	switch {
	case gcp.CredentialsJSON != "":
		return newServiceAccountTokenSource(httpClient, gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		raw, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		return newServiceAccountTokenSource(httpClient, string(raw))
	}
	return newMetadataTokenSource(httpClient), nil
}

func newClient(httpClient *http.Client, bucket, endpoint string, ts *tokenSource) *Client {
	return &Client{
		httpClient:  httpClient,
		bucket:      bucket,
		endpoint:    strings.TrimRight(endpoint, "/"),
		tokenSource: ts,
		interval:    retryInterval,
	}
}

// Download returns the bytes of object. A missing object is CodeNotFound;
// transport failures and 5xx answers are retried a fixed number of times.
func (c *Client) Download(ctx context.Context, object string) ([]byte, error) {
	object = strings.TrimPrefix(strings.TrimSpace(object), "/")
	if object == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "object name is required")
	}
	u := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", c.endpoint, url.PathEscape(c.bucket), url.PathEscape(object))

	var data []byte
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		data, err = c.fetchObject(ctx, u, object)
		if err != nil && pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			return retry.RetryableError(err)
		}
		return err
	})
	return data, err
}

func (c *Client) fetchObject(ctx context.Context, u, object string) ([]byte, error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "download "+object)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "ticket file "+object+" not found")
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, statusErr(resp), "download "+object)
	case resp.StatusCode != http.StatusOK:
		return nil, pkgerrors.Wrap(pkgerrors.CodeForbidden, statusErr(resp), "download "+object)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read "+object)
	}
	if len(data) > maxObjectSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ticket file "+object+" is too large")
	}
	return data, nil
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs the same read permission as
// Download.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.tokenSource == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/storage/v1/b/%s/o?maxResults=1", c.endpoint, url.PathEscape(c.bucket))
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("list bucket %s: %w", c.bucket, statusErr(resp))
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	token, err := c.tokenSource.Token(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.httpClient.Do(req)
}

func statusErr(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return fmt.Errorf("%s: %s", resp.Status, msg)
	}
	return errors.New(resp.Status)
}
