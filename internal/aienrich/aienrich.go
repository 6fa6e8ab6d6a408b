// Package aienrich implements the AI enrichment client (spec.md
// §4.7): a timeout-capped call to an external scoring endpoint,
// guarded by pkg/circuit the same way the donor guards its outbound
// collaborators, with a deterministic mock fallback when no endpoint
// is configured.
package aienrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/notifyhub/prioritycore/internal/domain"
	"github.com/notifyhub/prioritycore/pkg/circuit"
	"github.com/notifyhub/prioritycore/pkg/clock"
	"github.com/notifyhub/prioritycore/pkg/score"
)

// Deadline is the hard timeout spec.md §4.7 imposes on GetAiScore.
const Deadline = 200 * time.Millisecond

// ErrTimeout is returned (wrapped) when the call exceeds Deadline.
var ErrTimeout = errors.New("aienrich: call exceeded deadline")

var mockBase = map[string]int{
	"security_alert":  12,
	"direct_message":  10,
	"payment_alert":   11,
	"reminder":        8,
	"system_update":   2,
	"promotion":       -5,
	"low_value_promo": -8,
}

// Client calls an external AI scoring endpoint, falling back to a
// deterministic mock when Endpoint is empty.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
	Clock      clock.Clock
	breaker    *circuit.Breaker
}

// New builds a Client. An empty endpoint means every call uses the
// mock scorer; the circuit breaker still guards real calls.
func New(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: Deadline},
		Clock:      clock.NewReal(),
		breaker: circuit.NewBreaker(circuit.Config{
			Name:        "aienrich",
			MaxFailures: 5,
			Timeout:     10 * time.Second,
			HalfOpenMax: 1,
		}),
	}
}

type scoreRequest struct {
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Channel   string `json:"channel"`
	Source    string `json:"source"`
	HourOfDay int    `json:"hour_of_day"`
}

type scoreResponse struct {
	ScoreAdjustment int `json:"score_adjustment"`
}

// GetAiScore returns an adjustment in [-10, +15]. When the request
// fails after the context deadline has passed, the error wraps
// ErrTimeout; other faults (non-200 status, undecodable body, open
// breaker) are returned as they are. The pipeline catches any of them
// and continues with ai_adjustment = 0, recording
// stages.ai = "SKIPPED (<reason>)".
func (c *Client) GetAiScore(ctx context.Context, e domain.Event) (int, error) {
	if c.Endpoint == "" {
		return c.mockScore(e), nil
	}

	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	var adjustment int
	err := c.breaker.Execute(ctx, func() error {
		body, err := json.Marshal(scoreRequest{
			UserID:    e.UserID,
			EventType: e.EventType,
			Channel:   string(e.Channel),
			Source:    e.Source,
			HourOfDay: c.Clock.Now().Hour(),
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("aienrich: unexpected status %d", resp.StatusCode)
		}

		var out scoreResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		adjustment = score.Clamp(out.ScoreAdjustment, -10, 15)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return adjustment, nil
}

// mockScore is the deterministic-ish fallback from spec.md §4.7: a
// per-event-type base plus uniform noise in [-3, +2], clamped. Uses
// the package-level math/rand functions (internally mutex-guarded)
// rather than a private *rand.Rand, since GetAiScore is called
// concurrently from many request handlers.
func (c *Client) mockScore(e domain.Event) int {
	base, ok := mockBase[e.EventType]
	if !ok {
		base = 0
	}
	noise := rand.Intn(6) - 3 // uniform in [-3, 2]
	return score.Clamp(base+noise, -10, 15)
}
