package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-cart/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	// CartReplayTTL covers cart line mutations and refreshes.
	CartReplayTTL = 24 * time.Hour
	// MembershipReplayTTL covers purchase, renew and cancel, which a client
	// may retry long after a lost response.
	MembershipReplayTTL = 7 * 24 * time.Hour

	maxReplayBody = 1 << 20
)

// IdempotencyStore persists replayable responses. Replay returns
// pkgredis.ErrMissing when nothing was recorded for the key.
type IdempotencyStore interface {
	Replay(ctx context.Context, scope, id string) ([]byte, error)
	Remember(ctx context.Context, scope, id string, payload []byte, ttl time.Duration) (bool, error)
}

// replay is what gets stored for a completed request.
type replay struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
	RequestHash string `json:"request_hash"`
}

func (rp replay) write(w http.ResponseWriter) {
	if rp.ContentType != "" {
		w.Header().Set("Content-Type", rp.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(rp.Status)
	_, _ = w.Write(rp.Body)
}

// Idempotent is mounted per route. A repeated Idempotency-Key within the
// same session, customer and path gets the first response back instead of a
// second mutation. Requests without the header pass through, and 5xx
// responses are never recorded so the client can retry them.
func Idempotent(store IdempotencyStore, logg *logger.Logger, ttl time.Duration) func(http.Handler) http.Handler {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			body, err := io.ReadAll(io.LimitReader(r.Body, maxReplayBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := hashBody(body)
			scope := replayScope(r)

			stored, err := store.Replay(ctx, scope, key)
			switch {
			case errors.Is(err, pkgredis.ErrMissing):
			case err != nil:
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeServiceUnavailable, err, "check idempotency"))
				return
			default:
				var prior replay
				if err := json.Unmarshal(stored, &prior); err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
					return
				}
				if prior.RequestHash != hash {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key reused with different request body").
						WithField(idempotencyHeader, "unique per request body"))
					return
				}
				logg.Debug(logg.WithField(ctx, "idempotency_key", key), "idempotency.replayed")
				prior.write(w)
				return
			}

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			status := capture.statusOrOK()
			if status >= http.StatusInternalServerError {
				return
			}
			payload, err := json.Marshal(replay{
				Status:      status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.body.Bytes(),
				RequestHash: hash,
			})
			if err != nil {
				logg.Error(ctx, "idempotency.encode_failed", err)
				return
			}
			if _, err := store.Remember(ctx, scope, key, payload, ttl); err != nil {
				logg.Error(ctx, "idempotency.persist_failed", err)
			}
		})
	}
}

func replayScope(r *http.Request) string {
	return strings.Join([]string{
		SessionKeyFromContext(r.Context()),
		CustomerIDFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}, "|")
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusOrOK() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
