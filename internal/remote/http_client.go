package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
// 索引文件本身就是 .gz/.rz，关闭透明解压以保证正文与 Content-Length 一致。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DisableCompression:    true,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const (
	defaultTimeout   = 30 * time.Second
	defaultBackoff   = 500 * time.Millisecond
	maxBackoff       = 10 * time.Second
	defaultUserAgent = "gemsync"
)

// Options 控制单个源的 HTTP 行为；零值即可使用。
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	// Proxy 为空时沿用环境变量 HTTP(S)_PROXY。
	Proxy     string
	Username  string
	Password  string
	UserAgent string
	Logger    *logrus.Logger
}

// HTTPClient 通过 HEAD 探测大小、GET 下载正文，并对瞬时错误做指数退避重试。
type HTTPClient struct {
	client     *http.Client
	retries    int
	username   string
	password   string
	userAgent  string
	logger     *logrus.Logger
	// newBackOff 为每次请求生成独立的退避序列，测试中可替换为零等待。
	newBackOff func() backoff.BackOff
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient 基于共享 Transport 的克隆构建客户端，各源之间互不影响代理设置。
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	transport := defaultTransport.Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	initial := opts.InitialBackoff
	if initial <= 0 {
		initial = defaultBackoff
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	agent := opts.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	newBackOff := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.Multiplier = 2
		b.MaxInterval = maxBackoff
		return b
	}

	return &HTTPClient{
		client:     &http.Client{Timeout: timeout, Transport: transport},
		retries:    retries,
		username:   opts.Username,
		password:   opts.Password,
		userAgent:  agent,
		logger:     logger,
		newBackOff: newBackOff,
	}, nil
}

// Timeout 返回底层 http.Client 的超时设置。
func (c *HTTPClient) Timeout() time.Duration {
	return c.client.Timeout
}

// Size 发起 HEAD 请求读取 Content-Length；服务端未返回长度时退化为 GET 并计数。
func (c *HTTPClient) Size(ctx context.Context, uri string) (int64, error) {
	var size int64 = -1
	err := c.do(ctx, http.MethodHead, uri, func(resp *http.Response) error {
		size = resp.ContentLength
		return nil
	})
	if err != nil {
		return 0, err
	}
	if size >= 0 {
		return size, nil
	}
	body, err := c.FetchPath(ctx, uri)
	if err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

// FetchPath 下载完整正文。
func (c *HTTPClient) FetchPath(ctx context.Context, uri string) ([]byte, error) {
	var body []byte
	err := c.do(ctx, http.MethodGet, uri, func(resp *http.Response) error {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &NetworkError{URL: redact(uri), Err: err}
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, method, uri string, handle func(*http.Response) error) error {
	attempt := 0
	operation := func() (struct{}, error) {
		attempt++
		err := c.once(ctx, method, uri, handle)
		if err != nil && (!retryable(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, delay time.Duration) {
		c.logger.WithFields(logrus.Fields{
			"action":  "upstream_retry",
			"method":  method,
			"url":     redact(uri),
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn(err.Error())
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.retries+1)),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	var netErr *NetworkError
	var notFound *NotFoundError
	if !errors.As(err, &netErr) && !errors.As(err, &notFound) {
		return &NetworkError{URL: redact(uri), Err: err}
	}
	return err
}

func (c *HTTPClient) once(ctx context.Context, method, uri string, handle func(*http.Response) error) error {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return &NetworkError{URL: redact(uri), Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{URL: redact(uri), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &NotFoundError{URL: redact(uri)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &NetworkError{URL: redact(uri), Status: resp.StatusCode}
	}
	return handle(resp)
}

// retryable 仅对传输错误、429 与 5xx 重试；404 等确定性结果直接返回。
func retryable(err error) bool {
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	if netErr.Status == 0 {
		return !errors.Is(netErr.Err, context.Canceled)
	}
	return netErr.Status == http.StatusTooManyRequests || netErr.Status >= 500
}
