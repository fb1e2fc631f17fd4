// Package reminders produces the reminder text shown in each notification
// slot of a goal. It asks an external text service first and falls back to
// local templates whenever that service cannot give a usable answer.
package reminders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jghoshh/goalnudge/backend/logging"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
)

// DefaultTimeout bounds a single call to the text service.
const DefaultTimeout = 5 * time.Second

// maxResponseBytes caps how much of the service response is read.
const maxResponseBytes = 1 << 20

// ErrExternalGeneration wraps every reason the text service result was rejected.
var ErrExternalGeneration = errors.New("external reminder generation failed")

// Generator produces one reminder message per slot.
type Generator struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Generator.
type Option func(*Generator)

// WithHTTPClient replaces the HTTP client used to reach the text service.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) { g.client = c }
}

// WithTimeout sets the bounded wait for the text service.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger used for fallback warnings.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithSeed makes the fallback template choice reproducible.
func WithSeed(seed int64) Option {
	return func(g *Generator) { g.rand = rand.New(rand.NewSource(seed)) }
}

// NewGenerator creates a Generator for the text service at baseURL.
// An empty baseURL disables the external call and always uses the templates.
func NewGenerator(baseURL string, opts ...Option) *Generator {
	g := &Generator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		timeout: DefaultTimeout,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrDefault(g.logger)
	return g
}

type generateRequest struct {
	Tasks string   `json:"tasks"`
	Times []string `json:"times"`
}

type generateResponse struct {
	Reminders []string `json:"reminders"`
}

// GenerateMessages returns exactly len(slots) messages. It never fails: any
// problem with the text service degrades to the local templates.
func (g *Generator) GenerateMessages(ctx context.Context, name string, kind models.GoalKind, slots []models.Slot) []string {
	if len(slots) == 0 {
		return []string{}
	}

	if g.baseURL != "" {
		messages, err := g.fetch(ctx, name, slots)
		if err == nil {
			return messages
		}
		g.logger.Warn("using fallback reminder text",
			slog.String("goal", name),
			slog.Int("slots", len(slots)),
			slog.String("error", err.Error()),
		)
	}

	return g.fallback(name, kind, slots)
}

func (g *Generator) fetch(ctx context.Context, name string, slots []models.Slot) ([]string, error) {
	times := make([]string, len(slots))
	for i, s := range slots {
		times[i] = planner.FormatClock(s)
	}

	body, err := json.Marshal(generateRequest{Tasks: name, Times: times})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrExternalGeneration, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/reminders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrExternalGeneration, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExternalGeneration, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrExternalGeneration, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrExternalGeneration, err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrExternalGeneration, err)
	}
	if len(decoded.Reminders) != len(slots) {
		return nil, fmt.Errorf("%w: got %d reminders for %d slots", ErrExternalGeneration, len(decoded.Reminders), len(slots))
	}
	for i, m := range decoded.Reminders {
		if strings.TrimSpace(m) == "" {
			return nil, fmt.Errorf("%w: reminder %d is empty", ErrExternalGeneration, i)
		}
	}
	return decoded.Reminders, nil
}

func (g *Generator) pick(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rand.Intn(n)
}
