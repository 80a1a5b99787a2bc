package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
)

// RemoteConfig configures fetches from a module registry.
type RemoteConfig struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RatePerSecond limits fetches; zero means unlimited.
	RatePerSecond float64
	Burst         int
	MaxSize       int64
	Token         string
	// TripAfter consecutive failures open the breaker for Cooldown.
	TripAfter uint32
	Cooldown  time.Duration
}

func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Timeout:      30 * time.Second,
		Retries:      3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		MaxSize:      DefaultMaxSize,
		TripAfter:    5,
		Cooldown:     30 * time.Second,
	}
}

// StatusError is a registry response other than 200 or 404.
type StatusError struct {
	Code int
	Name string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s for %s", ErrStatus, e.Code, http.StatusText(e.Code), e.Name)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// fetchFailed reports whether err says the registry is unhealthy rather
// than that the request was wrong.
func fetchFailed(err error) bool {
	var se *StatusError
	switch {
	case err == nil:
		return false
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrTooLarge):
		return false
	case errors.As(err, &se):
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// Remote fetches images over HTTP with retries, a rate limit and a
// circuit breaker.
type Remote struct {
	cfg     RemoteConfig
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

type RemoteOption func(*Remote)

func WithLogger(logger *zap.Logger) RemoteOption {
	return func(r *Remote) { r.logger = logger }
}

func WithMetrics(metrics *monitoring.Metrics) RemoteOption {
	return func(r *Remote) { r.metrics = metrics }
}

// retryLogger adapts zap to retryablehttp's leveled logger.
type retryLogger struct{ s *zap.SugaredLogger }

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

func NewRemote(cfg RemoteConfig, opts ...RemoteOption) (*Remote, error) {
	def := DefaultRemoteConfig()
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid registry url %q", cfg.BaseURL)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = max(def.RetryWaitMax, cfg.RetryWaitMin)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = def.TripAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}

	r := &Remote{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = retryLogger{s: r.logger.Named("retry").Sugar()}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	r.client = resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "dlkernel/1.0").
		SetHeader("Accept", "application/octet-stream")
	if cfg.BaseURL != "" {
		r.client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	}
	if cfg.Token != "" {
		r.client.SetAuthToken(cfg.Token)
	}

	if cfg.RatePerSecond <= 0 {
		r.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}

	trip := cfg.TripAfter
	r.breaker = resilience.New("module-registry", resilience.Settings{
		Cooldown: cfg.Cooldown,
		Trip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= trip
		},
		Failure: fetchFailed,
		OnStateChange: func(name string, from, to resilience.State) {
			r.logger.Warn("Registry breaker changed state",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
		},
	})
	return r, nil
}

func (r *Remote) Breaker() *resilience.Breaker { return r.breaker }

// IsURL reports whether name is an absolute http(s) URL.
func IsURL(name string) bool {
	return strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://")
}

// target turns a module path into a request URL relative to the base.
func (r *Remote) target(name string) (string, error) {
	if IsURL(name) {
		return name, nil
	}
	if r.cfg.BaseURL == "" {
		return "", fmt.Errorf("no registry configured for %s", name)
	}
	parts := strings.Split(strings.TrimPrefix(path.Clean("/"+name), "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/" + strings.Join(parts, "/"), nil
}

func (r *Remote) Load(ctx context.Context, name string) ([]byte, error) {
	if err := utils.ValidateModulePath(name); err != nil {
		return nil, err
	}
	target, err := r.target(name)
	if err != nil {
		return nil, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	start := time.Now()
	img, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) ([]byte, error) {
		return r.fetch(ctx, name, target)
	})
	r.metrics.RecordFetch(err)
	if err != nil {
		r.logger.Warn("Image fetch failed", zap.String("name", name), zap.Error(err))
		return nil, err
	}
	r.logger.Debug("Image fetched",
		zap.String("name", name),
		zap.Int("bytes", len(img)),
		zap.Duration("took", time.Since(start)))
	return img, nil
}

func (r *Remote) fetch(ctx context.Context, name, target string) ([]byte, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()

	switch code := resp.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case code < 200 || code > 299:
		return nil, &StatusError{Code: code, Name: name}
	}
	if n := resp.RawResponse.ContentLength; n > r.cfg.MaxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, n)
	}
	return readLimited(body, r.cfg.MaxSize)
}

func (r *Remote) Unload([]byte) {}

// Router sends URLs and, when a registry is configured, every other path
// to Remote; without one, plain paths go to Files.
type Router struct {
	files  *Files
	remote *Remote
}

func NewRouter(files *Files, remote *Remote) *Router {
	return &Router{files: files, remote: remote}
}

func (r *Router) pick(name string) (dlmodule.Ops, error) {
	switch {
	case IsURL(name) && r.remote == nil:
		return nil, fmt.Errorf("no remote source for %s", name)
	case IsURL(name):
		return r.remote, nil
	case r.remote != nil && r.remote.cfg.BaseURL != "":
		return r.remote, nil
	case r.files != nil:
		return r.files, nil
	}
	return nil, fmt.Errorf("no source for %s", name)
}

func (r *Router) Load(ctx context.Context, name string) ([]byte, error) {
	src, err := r.pick(name)
	if err != nil {
		return nil, err
	}
	return src.Load(ctx, name)
}

func (r *Router) Unload([]byte) {}
