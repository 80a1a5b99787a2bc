package source

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
)

var image = append([]byte("\x7fELF"), bytes.Repeat([]byte{0xa5}, 512)...)

func TestFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"mods/hello.mo": {Data: image},
		"mods/big.mo":   {Data: make([]byte, 64)},
		"mods/dir/x.mo": {Data: image},
	}
	files := NewFiles(fsys, int64(32+len(image)))
	ctx := context.Background()

	got, err := files.Load(ctx, "/mods/hello.mo")
	require.NoError(t, err)
	assert.Equal(t, image, got)

	_, err = files.Load(ctx, "mods/missing.mo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = files.Load(ctx, "mods/dir")
	assert.Error(t, err)

	_, err = files.Load(ctx, "../etc/passwd")
	var verr *utils.ValidationError
	assert.ErrorAs(t, err, &verr)

	small := NewFiles(fsys, 16)
	_, err = small.Load(ctx, "mods/big.mo")
	assert.ErrorIs(t, err, ErrTooLarge)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = files.Load(cancelled, "mods/hello.mo")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDetectAndDecompress(t *testing.T) {
	for _, codec := range []Codec{CodecGzip, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			packed, err := Compress(codec, image)
			require.NoError(t, err)
			assert.Equal(t, codec, Detect(packed))

			out, err := Decompress(codec, packed, 0)
			require.NoError(t, err)
			assert.Equal(t, image, out)

			_, err = Decompress(codec, packed, 100)
			assert.ErrorIs(t, err, ErrTooLarge)

			_, err = Decompress(codec, packed[:len(packed)/2], 0)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
	assert.Equal(t, CodecNone, Detect(image))
	assert.Equal(t, CodecNone, Detect(nil))
}

type countingOps struct {
	images   map[string][]byte
	unloaded atomic.Int32
}

func (o *countingOps) Load(_ context.Context, name string) ([]byte, error) {
	img, ok := o.images[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), img...), nil
}

func (o *countingOps) Unload([]byte) { o.unloaded.Add(1) }

func TestCompressedReleasesInnerBuffers(t *testing.T) {
	packed, err := Compress(CodecZstd, image)
	require.NoError(t, err)
	inner := &countingOps{images: map[string][]byte{"a.mo": image, "b.mo.zst": packed}}
	c := NewCompressed(inner, 0)
	ctx := context.Background()

	plain, err := c.Load(ctx, "a.mo")
	require.NoError(t, err)
	assert.Equal(t, image, plain)
	assert.Zero(t, inner.unloaded.Load())
	c.Unload(plain)
	assert.Equal(t, int32(1), inner.unloaded.Load())

	out, err := c.Load(ctx, "b.mo.zst")
	require.NoError(t, err)
	assert.Equal(t, image, out)
	assert.Equal(t, int32(2), inner.unloaded.Load(), "packed buffer goes back right away")
	c.Unload(out)
	assert.Equal(t, int32(2), inner.unloaded.Load())

	_, err = c.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func newRegistry(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func fastConfig(base string) RemoteConfig {
	cfg := DefaultRemoteConfig()
	cfg.BaseURL = base
	cfg.Retries = 2
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 2 * time.Millisecond
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestRemoteFetch(t *testing.T) {
	var auth, agent string
	srv := newRegistry(t, func(w http.ResponseWriter, r *http.Request) {
		auth, agent = r.Header.Get("Authorization"), r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/apps/hello.mo":
			_, _ = w.Write(image)
		default:
			http.NotFound(w, r)
		}
	})
	metrics := monitoring.NewMetrics()
	cfg := fastConfig(srv.URL + "/")
	cfg.Token = "secret"
	remote, err := NewRemote(cfg, WithMetrics(metrics))
	require.NoError(t, err)

	got, err := remote.Load(context.Background(), "apps/hello.mo")
	require.NoError(t, err)
	assert.Equal(t, image, got)
	assert.Equal(t, "Bearer secret", auth)
	assert.True(t, strings.HasPrefix(agent, "dlkernel/"))

	got, err = remote.Load(context.Background(), srv.URL+"/apps/hello.mo")
	require.NoError(t, err)
	assert.Equal(t, image, got)

	_, err = remote.Load(context.Background(), "apps/missing.mo")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, resilience.StateClosed, remote.Breaker().State())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FetchTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.FetchTotal.WithLabelValues("error")))
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(image)
	})
	remote, err := NewRemote(fastConfig(srv.URL))
	require.NoError(t, err)

	got, err := remote.Load(context.Background(), "x.mo")
	require.NoError(t, err)
	assert.Equal(t, image, got)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRemoteBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	cfg := fastConfig(srv.URL)
	cfg.Retries = 0
	cfg.TripAfter = 2
	cfg.Cooldown = time.Hour
	remote, err := NewRemote(cfg)
	require.NoError(t, err)

	for range 2 {
		_, err := remote.Load(context.Background(), "x.mo")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
		assert.ErrorIs(t, err, ErrStatus)
	}
	_, err = remote.Load(context.Background(), "x.mo")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestRemoteRejectsOversizedImages(t *testing.T) {
	srv := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(image)
	})
	cfg := fastConfig(srv.URL)
	cfg.MaxSize = 64
	remote, err := NewRemote(cfg)
	require.NoError(t, err)

	_, err = remote.Load(context.Background(), "x.mo")
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, resilience.StateClosed, remote.Breaker().State())
}

func TestRemoteRateLimit(t *testing.T) {
	srv := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(image)
	})
	cfg := fastConfig(srv.URL)
	cfg.RatePerSecond = 0.01
	cfg.Burst = 1
	remote, err := NewRemote(cfg)
	require.NoError(t, err)

	_, err = remote.Load(context.Background(), "x.mo")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = remote.Load(ctx, "x.mo")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRemoteConfigValidation(t *testing.T) {
	_, err := NewRemote(RemoteConfig{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{BaseURL: "http://"})
	assert.Error(t, err)

	remote, err := NewRemote(RemoteConfig{})
	require.NoError(t, err)
	_, err = remote.Load(context.Background(), "x.mo")
	assert.Error(t, err, "relative paths need a registry")
}

func TestRouter(t *testing.T) {
	srv := newRegistry(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("\x7fELFremote"))
	})
	files := NewFiles(fstest.MapFS{"local.mo": {Data: []byte("\x7fELFlocal")}}, 0)
	noRegistry, err := NewRemote(RemoteConfig{})
	require.NoError(t, err)
	withRegistry, err := NewRemote(fastConfig(srv.URL))
	require.NoError(t, err)
	ctx := context.Background()

	r := NewRouter(files, noRegistry)
	got, err := r.Load(ctx, "local.mo")
	require.NoError(t, err)
	assert.Equal(t, "\x7fELFlocal", string(got))
	got, err = r.Load(ctx, srv.URL+"/any.mo")
	require.NoError(t, err)
	assert.Equal(t, "\x7fELFremote", string(got))

	got, err = NewRouter(files, withRegistry).Load(ctx, "local.mo")
	require.NoError(t, err)
	assert.Equal(t, "\x7fELFremote", string(got))

	_, err = NewRouter(files, nil).Load(ctx, srv.URL+"/any.mo")
	assert.Error(t, err)
	_, err = NewRouter(nil, nil).Load(ctx, "local.mo")
	assert.Error(t, err)
}

func TestFetchFailedClassification(t *testing.T) {
	assert.False(t, fetchFailed(nil))
	assert.False(t, fetchFailed(ErrNotFound))
	assert.False(t, fetchFailed(ErrTooLarge))
	assert.False(t, fetchFailed(&StatusError{Code: http.StatusForbidden}))
	assert.True(t, fetchFailed(&StatusError{Code: http.StatusBadGateway}))
	assert.True(t, fetchFailed(&StatusError{Code: http.StatusTooManyRequests}))
	assert.True(t, fetchFailed(errors.New("connection refused")))
}
