package middleware

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nhatrang-rewards/rewards/internal/logging"
)

const testTxHeader = "X-Transaction-ID"

func setupTestApp(t *testing.T, required bool) (*fiber.App, *atomic.Int32, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	app := fiber.New()
	logger := logging.Discard()
	var hits atomic.Int32
	app.Use(Idempotency(cache, IdempotencyConfig{
		TTL:      time.Minute,
		Required: required,
		Committed: func(c *fiber.Ctx) bool {
			return len(c.Response().Header.Peek(testTxHeader)) > 0
		},
		Logger: logger,
	}))
	app.Post("/points", func(c *fiber.Ctx) error {
		n := hits.Add(1)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "hit": n})
	})
	app.Post("/flaky", func(c *fiber.Ctx) error {
		hits.Add(1)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false})
	})
	// Transfer went through, the follow-up read did not.
	app.Post("/half-done", func(c *fiber.Ctx) error {
		n := hits.Add(1)
		c.Set(testTxHeader, fmt.Sprintf("0.0.2@1700000000.%d", n))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"success": false, "hit": n})
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &hits, cleanup
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeaderWhenConfigured(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, true)
	defer cleanup()

	status, _ := post(t, app, "/points", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
	if hits.Load() != 0 {
		t.Fatalf("handler must not run without a key")
	}
}

func TestIdempotencyOptionalHeaderPassesThrough(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, false)
	defer cleanup()

	post(t, app, "/points", "")
	post(t, app, "/points", "")
	if hits.Load() != 2 {
		t.Fatalf("expected both keyless requests to reach the handler, got %d", hits.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, false)
	defer cleanup()

	status, payload := post(t, app, "/points", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cachedPayload := post(t, app, "/points", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if cachedPayload != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cachedPayload)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d times", hits.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cachedPayload), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyDoesNotCacheUpstreamFailures(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, false)
	defer cleanup()

	post(t, app, "/flaky", "retry-me")
	status, _ := post(t, app, "/flaky", "retry-me")
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected %d got %d", fiber.StatusBadGateway, status)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected failed request to be retryable, handler ran %d times", hits.Load())
	}
}

func TestIdempotencyReplaysCommittedFailure(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, false)
	defer cleanup()

	status, first := post(t, app, "/half-done", "same-key")
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected %d got %d", fiber.StatusBadGateway, status)
	}
	status, second := post(t, app, "/half-done", "same-key")
	if status != fiber.StatusBadGateway {
		t.Fatalf("expected replayed %d got %d", fiber.StatusBadGateway, status)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected the committed request to run once, ran %d times", hits.Load())
	}
	if first != second {
		t.Fatalf("expected identical replay, got %s then %s", first, second)
	}
}

func TestIdempotencyReplayCarriesHeaders(t *testing.T) {
	app, _, cleanup := setupTestApp(t, false)
	defer cleanup()

	post(t, app, "/half-done", "hdr-key")

	req := httptest.NewRequest(fiber.MethodPost, "/half-done", strings.NewReader("{}"))
	req.Header.Set(IdempotencyKeyHeader, "hdr-key")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get(HeaderReplayed) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if resp.Header.Get(testTxHeader) != "0.0.2@1700000000.1" {
		t.Fatalf("expected recorded transaction id, got %q", resp.Header.Get(testTxHeader))
	}
}

func TestIdempotencyKeysAreScopedByPath(t *testing.T) {
	app, hits, cleanup := setupTestApp(t, false)
	defer cleanup()

	post(t, app, "/points", "shared")
	post(t, app, "/half-done", "shared")
	if hits.Load() != 2 {
		t.Fatalf("expected distinct routes to run independently, got %d hits", hits.Load())
	}
}
