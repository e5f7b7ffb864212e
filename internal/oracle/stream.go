package oracle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// defaultStreamReconnectDelay is used when a Stream is built with a
// non-positive ReconnectInterval.
const defaultStreamReconnectDelay = 3 * time.Second

// StreamBinding ties a Pyth price-update feed id to the liquidity mint it
// prices, so a decoded update can be filed into the cache under the same key
// FetchPrices uses.
type StreamBinding struct {
	FeedID      string
	MintAddress string
}

// Stream subscribes to a Pyth price-update feed and pre-warms a price cache
// between epochs. It is advisory only: the epoch loop does not read this
// cache, and the batched RPC read in FetchPrices is the only price source for
// health computation, so a missed or stale stream update never affects a
// liquidation decision.
type Stream struct {
	endpoint       string
	bindings       map[string]StreamBinding // feed id -> binding
	cache          Cache
	logger         *slog.Logger
	client         *http.Client
	reconnectDelay time.Duration
}

// Cache is the narrow surface Stream needs from internal/cache.Cache, kept as
// an interface here so tests don't need the generic's full type parameters.
type Cache interface {
	Insert(key string, value decimal.Decimal)
}

// NewStream builds a Stream. endpoint may be an http(s) SSE URL (the
// reference's own shape) or a ws(s) URL, in which case updates are read over
// a websocket connection instead.
func NewStream(endpoint string, bindings []StreamBinding, cache Cache, logger *slog.Logger) *Stream {
	index := make(map[string]StreamBinding, len(bindings))
	for _, b := range bindings {
		index[strings.ToLower(strings.TrimSpace(b.FeedID))] = b
	}
	return &Stream{
		endpoint: endpoint,
		bindings: index,
		cache:    cache,
		logger:   logger,
		client:   &http.Client{},
	}
}

// Run reconnects in a loop until ctx is cancelled. Every disconnect is logged
// and retried after reconnectDelay; nothing here is fatal to the caller.
func (s *Stream) Run(ctx context.Context) {
	endpoint := strings.TrimSpace(s.endpoint)
	if endpoint == "" || len(s.bindings) == 0 {
		s.logger.Warn("oracle price stream disabled due to missing endpoint or bindings")
		return
	}

	delay := s.reconnectDelay
	if delay <= 0 {
		delay = defaultStreamReconnectDelay
	}

	s.logger.Info("oracle price stream enabled", "endpoint", endpoint, "feeds", len(s.bindings))

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		var err error
		if isWebsocketEndpoint(endpoint) {
			err = s.consumeWebsocket(ctx, endpoint)
		} else {
			err = s.consumeSSE(ctx, endpoint)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("oracle price stream disconnected", "err", err, "retry_in", delay.String())
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func isWebsocketEndpoint(endpoint string) bool {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return parsed.Scheme == "ws" || parsed.Scheme == "wss"
}

// consumeSSE mirrors the reference stream's shape: a long-lived GET with
// Accept: text/event-stream, manually framed on blank lines.
func (s *Stream) consumeSSE(ctx context.Context, endpoint string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("open price stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("open price stream: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024), 64*1024*1024)

	var eventData strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if eventData.Len() == 0 {
				continue
			}
			s.processEvent(eventData.String())
			eventData.Reset()
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if eventData.Len() > 0 {
			eventData.WriteByte('\n')
		}
		eventData.WriteString(payload)
	}
	if eventData.Len() > 0 {
		s.processEvent(eventData.String())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read price stream: %w", err)
	}
	return io.EOF
}

// consumeWebsocket is the fallback dial path for endpoints that serve the
// same feed over a websocket instead of SSE. Each text frame is expected to
// carry one JSON envelope, same shape as an SSE data: line's payload.
func (s *Stream) consumeWebsocket(ctx context.Context, endpoint string) error {
	conn, _, err := dialStreamWebsocket(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dial price stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read price stream frame: %w", err)
		}
		s.processEvent(string(payload))
	}
}

func dialStreamWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(16 << 20)
	return conn, resp, nil
}

func (s *Stream) processEvent(rawEvent string) {
	payload := strings.TrimSpace(rawEvent)
	if payload == "" || payload == "[DONE]" {
		return
	}

	var event pythStreamEnvelope
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		s.logger.Warn("failed to decode price stream event", "err", err)
		return
	}

	for _, update := range event.Parsed {
		feedID := strings.ToLower(strings.TrimSpace(update.ID))
		binding, ok := s.bindings[feedID]
		if !ok {
			continue
		}

		price, err := decodeStreamPrice(update.Price.Price, update.Price.Expo)
		if err != nil || price.IsZero() || price.IsNegative() {
			continue
		}

		s.cache.Insert(binding.MintAddress, price)
	}
}

type pythStreamEnvelope struct {
	Parsed []pythStreamUpdate `json:"parsed"`
}

type pythStreamUpdate struct {
	ID    string            `json:"id"`
	Price pythStreamPricing `json:"price"`
}

type pythStreamPricing struct {
	Price string `json:"price"`
	Expo  int32  `json:"expo"`
}

// decodeStreamPrice scales a decimal string price by 10^expo, the same
// convention DecodePrice uses for the authoritative batched-RPC path. This is
// a different (higher-precision) decode than the reference stream's
// float-based one: the advisory cache is worth getting right even though it
// never feeds directly into a health computation.
func decodeStreamPrice(raw string, expo int32) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, err
	}
	return value.Shift(expo), nil
}
