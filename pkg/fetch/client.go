package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xmarre/Copperminer/pkg/config"
	errs "github.com/xmarre/Copperminer/pkg/errors"
	"github.com/xmarre/Copperminer/pkg/logger"
	"github.com/xmarre/Copperminer/pkg/ratelimit"
	"github.com/xmarre/Copperminer/pkg/retry"
)

const (
	headAttempts     = 3
	getAttempts      = 5
	defaultRetryWait = 5 * time.Second
)

// ProxyPool is the subset of the proxy pool the client depends on
type ProxyPool interface {
	Acquire(ctx context.Context) (string, error)
	Evict(addr string)
}

// Client performs HEAD, GET and streamed download operations, rotating
// proxies on failure when a pool is attached. A nil pool means direct
// mode: one attempt, no rotation.
type Client struct {
	cfg      config.FetchConfig
	pool     ProxyPool
	limiters *ratelimit.Set
	logger   logger.Logger
	direct   *http.Client
}

// NewClient creates a fetch client. pool may be nil for direct mode.
func NewClient(cfg config.FetchConfig, pool ProxyPool, limiters *ratelimit.Set, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.InsecureSkipVerify {
		log.Warn("TLS certificate verification is disabled for outbound requests")
	}

	c := &Client{
		cfg:      cfg,
		pool:     pool,
		limiters: limiters,
		logger:   log,
	}
	c.direct = &http.Client{
		Timeout:   cfg.GetTimeout,
		Transport: c.transport(nil),
	}
	return c
}

// Head issues a HEAD request with the configured User-Agent plus the
// given extra headers (conditional headers pass through here). It
// returns the status code and response headers of the first attempt
// that produced a response.
func (c *Client) Head(ctx context.Context, rawURL string, headers map[string]string) (int, http.Header, error) {
	var status int
	var respHeaders http.Header

	err := c.withRotation(ctx, rawURL, headAttempts, c.limiters.Light, func(client *http.Client) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeUnknown, err, "bad request for %s", rawURL)
		}
		c.setHeaders(req, headers, "")

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.HeadTimeout)
		defer cancel()
		resp, err := client.Do(req.WithContext(reqCtx))
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeNetwork, err, "HEAD %s failed", rawURL)
		}
		resp.Body.Close()

		status = resp.StatusCode
		respHeaders = resp.Header
		return resp.StatusCode, nil
	})
	return status, respHeaders, err
}

// GetText fetches a page body as a string. Non-200 responses are
// classified failures.
func (c *Client) GetText(ctx context.Context, rawURL string, headers map[string]string) (string, http.Header, error) {
	var body string
	var respHeaders http.Header

	err := c.withRotation(ctx, rawURL, getAttempts, c.limiters.Light, func(client *http.Client) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeUnknown, err, "bad request for %s", rawURL)
		}
		c.setHeaders(req, headers, "")

		resp, err := client.Do(req)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeNetwork, err, "GET %s failed", rawURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, statusError(rawURL, resp)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, errs.Wrap(errs.ErrorTypeNetwork, err, "reading %s", rawURL)
		}
		body = string(data)
		respHeaders = resp.Header
		return resp.StatusCode, nil
	})
	return body, respHeaders, err
}

// DownloadStream streams a media URL to destPath. The body must carry
// an image or video content type. The destination is only finalized on
// success: data goes to a temporary file that is atomically renamed,
// and a failed attempt leaves nothing behind.
func (c *Client) DownloadStream(ctx context.Context, rawURL, destPath, referer string) (int64, error) {
	var written int64

	limiter := c.limiters.ForURL(rawURL)
	err := c.withRotation(ctx, rawURL, getAttempts, limiter, func(client *http.Client) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeUnknown, err, "bad request for %s", rawURL)
		}
		c.setHeaders(req, nil, referer)

		resp, err := client.Do(req)
		if err != nil {
			return 0, errs.Wrap(errs.ErrorTypeNetwork, err, "GET %s failed", rawURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, statusError(rawURL, resp)
		}

		ctype := resp.Header.Get("Content-Type")
		if !strings.HasPrefix(ctype, "image") && !strings.HasPrefix(ctype, "video") {
			return resp.StatusCode, errs.New(errs.ErrorTypeContent, resp.StatusCode,
				"%s is not media (Content-Type: %s)", rawURL, ctype)
		}

		n, err := writeAtomic(destPath, resp.Body)
		if err != nil {
			return resp.StatusCode, errs.Wrap(errs.ErrorTypeNetwork, err, "streaming %s", rawURL)
		}
		written = n
		return resp.StatusCode, nil
	})
	return written, err
}

// withRotation runs one request function under the retry-and-rotate
// policy: wait on the rate limiter, run the attempt, then either
// succeed, evict the proxy and rotate (proxy fault), honor Retry-After
// and retry the same proxy (429), or fail outright (content fault).
func (c *Client) withRotation(ctx context.Context, rawURL string, attempts int, limiter ratelimit.Limiter, do func(*http.Client) (int, error)) error {
	if c.pool == nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		status, err := do(c.direct)
		limiter.RecordOutcome(status, 0)
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		status, err := do(c.clientFor(addr))
		if err == nil {
			limiter.RecordOutcome(status, 0)
			return nil
		}
		lastErr = err

		var classified *errs.Error
		etype := errs.ErrorTypeUnknown
		if errors.As(err, &classified) {
			etype = classified.Type
		}

		switch {
		case etype == errs.ErrorTypeRateLimit:
			// 429 is the target throttling us, not a proxy fault
			wait := retryAfterOf(classified)
			limiter.RecordOutcome(status, wait)
			c.logger.WarnWithFields("rate limited, backing off", map[string]interface{}{
				"url":   rawURL,
				"wait":  wait,
				"proxy": addr,
			})
			if err := retry.Wait(ctx, wait); err != nil {
				return err
			}
		case errs.IsProxyFault(etype):
			limiter.RecordOutcome(status, 0)
			c.pool.Evict(addr)
			c.logger.DebugWithFields("proxy fault, rotating", map[string]interface{}{
				"url":     rawURL,
				"proxy":   addr,
				"attempt": attempt,
				"error":   err.Error(),
			})
		default:
			// Content faults won't improve with a different proxy
			limiter.RecordOutcome(status, 0)
			return err
		}
	}

	return errs.Wrap(errs.ErrorTypeExhausted, lastErr, "all %d attempts failed for %s", attempts, rawURL)
}

// clientFor builds an HTTP client routed through the given proxy. The
// proxy endpoint is always http://<addr> regardless of target scheme.
func (c *Client) clientFor(addr string) *http.Client {
	proxyURL, err := url.Parse("http://" + addr)
	if err != nil {
		return c.direct
	}
	return &http.Client{
		Timeout:   c.cfg.GetTimeout,
		Transport: c.transport(proxyURL),
	}
}

func (c *Client) transport(proxyURL *url.URL) *http.Transport {
	t := &http.Transport{
		DisableKeepAlives: true,
	}
	if proxyURL != nil {
		t.Proxy = http.ProxyURL(proxyURL)
	}
	if c.cfg.InsecureSkipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

func (c *Client) setHeaders(req *http.Request, headers map[string]string, referer string) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// writeAtomic streams r into path via a temporary file, renaming only
// on success so no partial file is ever left at the destination
func writeAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}

	tempPath := path + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, r)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, err
	}
	return n, nil
}

// statusError classifies a non-200 response, carrying the Retry-After
// hint when the server sent one
func statusError(rawURL string, resp *http.Response) *errs.Error {
	e := errs.New(errs.ClassifyStatus(resp.StatusCode), resp.StatusCode,
		"GET %s returned %d", rawURL, resp.StatusCode)
	if hint, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && hint > 0 {
		e.RetryAfter = time.Duration(hint) * time.Second
	}
	return e
}

// retryAfterOf returns the Retry-After hint carried on a rate-limit
// error, defaulting to 5s like the servers that omit the header
func retryAfterOf(e *errs.Error) time.Duration {
	if e != nil && e.RetryAfter > 0 {
		return e.RetryAfter
	}
	return defaultRetryWait
}
