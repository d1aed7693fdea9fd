package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader names the client-chosen key that deduplicates credit requests.
	IdempotencyKeyHeader = "Idempotency-Key"
	// HeaderReplayed marks a response served from the replay store.
	HeaderReplayed = "Idempotent-Replayed"

	replayPrefix  = "rewards:idempotency:v1:"
	pendingMarker = "__pending__"
	storeTimeout  = 2 * time.Second
)

// IdempotencyConfig tunes the Idempotency middleware.
type IdempotencyConfig struct {
	TTL      time.Duration
	Required bool
	// Committed reports whether a 5xx response still records a ledger side effect. Such
	// responses are replayed like successes instead of releasing the key for another run.
	Committed func(c *fiber.Ctx) bool
	Logger    *slog.Logger
}

// Idempotency makes mutating requests that carry an Idempotency-Key run at most once per key
// and route. Later requests with the key get the recorded response. Failures that changed
// nothing leave the key free so the client can retry.
func Idempotency(cache *redis.Client, cfg IdempotencyConfig) fiber.Handler {
	store := &replayStore{cache: cache, ttl: cfg.TTL}
	committed := cfg.Committed
	if committed == nil {
		committed = func(*fiber.Ctx) bool { return false }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
		if key == "" {
			if cfg.Required {
				return fiber.NewError(fiber.StatusBadRequest, "missing "+IdempotencyKeyHeader+" header")
			}
			return c.Next()
		}
		slot := replayPrefix + c.Path() + ":" + key
		log := logger.With(slog.String("idempotency_key", key), slog.String("path", c.Path()))

		prior, found, err := store.load(slot)
		if err != nil {
			log.Error("idempotency lookup failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if found {
			if prior == nil {
				return fiber.NewError(fiber.StatusConflict, "request with this key is still in progress")
			}
			return prior.writeTo(c)
		}

		claimed, err := store.claim(slot)
		if err != nil {
			log.Error("idempotency claim failed", slog.Any("error", err))
			return fiber.NewError(fiber.StatusServiceUnavailable, "idempotency store unavailable")
		}
		if !claimed {
			return fiber.NewError(fiber.StatusConflict, "request with this key is still in progress")
		}

		if err := c.Next(); err != nil {
			store.release(slot)
			return err
		}

		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError && !committed(c) {
			store.release(slot)
			return nil
		}

		// An unsaved outcome keeps the pending marker until the TTL runs out.
		if err := store.save(slot, capture(c)); err != nil {
			log.Error("idempotency save failed", slog.Int("status", status), slog.Any("error", err))
		}
		return nil
	}
}

// recordedResponse is the replayable part of a response.
type recordedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func capture(c *fiber.Ctx) recordedResponse {
	rec := recordedResponse{
		Status:  c.Response().StatusCode(),
		Body:    append([]byte(nil), c.Response().Body()...),
		Headers: map[string]string{},
	}
	c.Response().Header.VisitAll(func(k, v []byte) {
		name := string(k)
		if strings.EqualFold(name, fiber.HeaderContentLength) {
			return
		}
		rec.Headers[name] = string(v)
	})
	return rec
}

func (r *recordedResponse) writeTo(c *fiber.Ctx) error {
	for name, value := range r.Headers {
		c.Set(name, value)
	}
	c.Set(HeaderReplayed, "true")
	return c.Status(r.Status).Send(r.Body)
}

// replayStore keeps one slot per key: absent, pending, or a recorded response.
type replayStore struct {
	cache *redis.Client
	ttl   time.Duration
}

// load returns found=false for a free slot, and a nil response for a pending one.
func (s *replayStore) load(slot string) (*recordedResponse, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	raw, err := s.cache.Get(ctx, slot).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(raw) == pendingMarker {
		return nil, true, nil
	}
	var rec recordedResponse
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (s *replayStore) claim(slot string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.cache.SetNX(ctx, slot, pendingMarker, s.ttl).Result()
}

func (s *replayStore) release(slot string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	_ = s.cache.Del(ctx, slot).Err()
}

func (s *replayStore) save(slot string, rec recordedResponse) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return s.cache.Set(ctx, slot, payload, s.ttl).Err()
}
