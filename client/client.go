package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/parlorlabs/exhibit/sigv4"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultHostSuffix = "r2.cloudflarestorage.com"

	// Error bodies from the provider are logged for diagnosability but
	// truncated so a large response can't flood the logs.
	maxErrorBodyBytes = 2048
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
)

// StatusError is returned for non-2xx responses that don't map to a sentinel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("storage returned status %d: %s", e.Code, e.Body)
}

type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
	Bucket          string

	// PublicBaseURL, when set, is used to build object URLs for serving.
	// Without it ObjectURL falls back to the direct storage endpoint, which
	// is a development-mode convenience and not guaranteed publicly readable.
	PublicBaseURL string

	// Endpoint overrides the derived https://<accountID>.r2.cloudflarestorage.com
	// endpoint. Used by tests and alternative S3-compatible providers.
	Endpoint string

	Timeout time.Duration

	// RateLimit/RateBurst bound outbound calls when set. Zero disables.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// Client performs signed single-object operations against an S3-compatible
// bucket using path-style addressing. It holds no cross-call state beyond
// its immutable configuration; every call signs a fresh request.
type Client struct {
	endpoint   *url.URL
	bucket     string
	publicBase string
	signer     *sigv4.Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func NewClient(cfg *Config) (*Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("access key id and secret access key cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be empty")
	}

	endpointStr := cfg.Endpoint
	if endpointStr == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("account id cannot be empty when no endpoint override is given")
		}
		endpointStr = fmt.Sprintf("https://%s.%s", cfg.AccountID, defaultHostSuffix)
	}

	endpoint, err := url.Parse(endpointStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint '%s': %w", endpointStr, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	clientLogger := cfg.Logger.WithGroup("object_client")
	clientLogger.Info("object store client initialized",
		"endpoint", endpoint.String(),
		"bucket", cfg.Bucket,
		"public_base_configured", cfg.PublicBaseURL != "")

	return &Client{
		endpoint:   endpoint,
		bucket:     cfg.Bucket,
		publicBase: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		signer: sigv4.NewSigner(sigv4.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
		}),
		httpClient: &http.Client{
			Transport: &http.Transport{},
			Timeout:   timeout,
		},
		limiter: limiter,
		logger:  clientLogger,
	}, nil
}

// GetObject fetches the full body of an object. Returns ErrObjectNotFound
// for 404.
func (c *Client) GetObject(ctx context.Context, key string) ([]byte, error) {
	resp, err := c.signedDo(ctx, http.MethodGet, key, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body for key '%s': %w", key, err)
	}
	return data, nil
}

// PutObject writes body under key, overwriting any existing object. There is
// no multipart path; the payload is buffered in full by the caller.
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	resp, err := c.signedDo(ctx, http.MethodPut, key, body, contentType)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// DeleteObject removes the object under key. 404 surfaces as
// ErrObjectNotFound; the provider answering 204 is ordinary success.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	resp, err := c.signedDo(ctx, http.MethodDelete, key, nil, "")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ObjectURL builds the publicly resolvable URL for a stored key.
func (c *Client) ObjectURL(key string) string {
	if c.publicBase != "" {
		return fmt.Sprintf("%s/%s", c.publicBase, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.endpoint.String(), c.bucket, key)
}

// signedDo signs and performs one round-trip. Signing happens immediately
// before the call so the timestamp is always current; any retry by a caller
// goes back through here and gets a fresh signature.
func (c *Client) signedDo(ctx context.Context, method, key string, body []byte, contentType string) (*http.Response, error) {
	if key == "" {
		return nil, fmt.Errorf("key cannot be empty")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait cancelled for %s %s: %w", method, key, err)
		}
	}

	path := fmt.Sprintf("/%s/%s", c.bucket, key)
	reqURL := c.endpoint.String() + path

	headers := map[string]string{
		"Host":                    c.endpoint.Host,
		sigv4.HeaderAmzContentSha: sigv4.UnsignedPayload,
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	signed := c.signer.Sign(method, path, headers, time.Now())

	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request %s %s: %w", method, reqURL, err)
	}
	for k, v := range signed {
		req.Header.Set(k, v)
	}
	// net/http takes the wire Host from req.Host, not the header map; keep it
	// in lockstep with the value that was signed.
	req.Host = c.endpoint.Host

	c.logger.Debug("sending signed request", "method", method, "key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed", "method", method, "key", key, "error", err)
		return nil, fmt.Errorf("request %s %s failed: %w", method, key, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet := readErrorBody(resp.Body)
		c.logger.Warn("storage returned non-2xx status",
			"method", method, "key", key, "status_code", resp.StatusCode, "body", snippet)

		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, ErrObjectNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, ErrAccessDenied
		default:
			return nil, &StatusError{Code: resp.StatusCode, Body: snippet}
		}
	}

	c.logger.Debug("request successful", "method", method, "key", key, "status_code", resp.StatusCode)
	return resp, nil
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
