package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEcho(mw echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, "ok") }, mw)
	return e
}

func get(e *echo.Echo, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_FixedWindowPerClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2025, 6, 1, 12, 0, 0, 100*int(time.Millisecond), time.UTC)
	e := newEcho(RateLimitMiddleware(RateLimitConfig{
		Redis:          rdb,
		RPS:            2,
		Window:         time.Second,
		RetryAfterHint: true,
		Now:            func() time.Time { return now },
	}))

	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1000", nil).Code)
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1001", nil).Code)

	rec := get(e, "10.0.0.1:1002", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// other clients have their own window
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.2:1000", nil).Code)

	// next window
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1003", nil).Code)
}

func TestRateLimit_KeysExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := newEcho(RateLimitMiddleware(RateLimitConfig{Redis: rdb, RPS: 5, Window: time.Second}))
	require.Equal(t, http.StatusOK, get(e, "10.0.0.1:1000", nil).Code)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 2*time.Second, mr.TTL(keys[0]))
}

func TestRateLimit_DisabledOrRedisDown(t *testing.T) {
	e := newEcho(RateLimitMiddleware(RateLimitConfig{RPS: 0}))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1000", nil).Code)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e = newEcho(RateLimitMiddleware(RateLimitConfig{Redis: rdb, RPS: 1}))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1000", nil).Code)
	}
}

func TestWebhookSecret(t *testing.T) {
	e := newEcho(WebhookSecretMiddleware("s3cret"))

	assert.Equal(t, http.StatusUnauthorized, get(e, "10.0.0.1:1", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(e, "10.0.0.1:1", map[string]string{HeaderWebhookSecret: "nope"}).Code)
	assert.Equal(t, http.StatusOK, get(e, "10.0.0.1:1", map[string]string{HeaderWebhookSecret: "s3cret"}).Code)

	open := newEcho(WebhookSecretMiddleware(""))
	assert.Equal(t, http.StatusOK, get(open, "10.0.0.1:1", nil).Code)
}
