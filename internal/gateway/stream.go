package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Tick is one streamed price update.
type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// TickHandler receives streamed ticks. Handlers must be fast; slow work
// belongs on the caller's side of a channel.
type TickHandler func(Tick)

// StreamConfig configures the market-data stream client.
type StreamConfig struct {
	URL            string
	ReconnectDelay time.Duration
	ReadTimeout    time.Duration
}

// DefaultStreamConfig returns sensible defaults.
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:            url,
		ReconnectDelay: 5 * time.Second,
		ReadTimeout:    90 * time.Second,
	}
}

// Stream consumes a websocket feed of price ticks and dispatches them to a
// handler. It reconnects with a fixed delay until the context is cancelled.
type Stream struct {
	logger  *zap.Logger
	config  StreamConfig
	handler TickHandler
}

// NewStream creates a stream client.
func NewStream(logger *zap.Logger, config StreamConfig, handler TickHandler) *Stream {
	return &Stream{logger: logger.Named("stream"), config: config, handler: handler}
}

// Run blocks until ctx is cancelled, maintaining the connection.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.consume(ctx); err != nil {
			s.logger.Warn("stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.ReconnectDelay):
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.Info("stream connected", zap.String("url", s.config.URL))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var tick Tick
		if err := json.Unmarshal(raw, &tick); err != nil {
			s.logger.Debug("dropping malformed tick", zap.Error(err))
			continue
		}
		if tick.At.IsZero() {
			tick.At = time.Now().UTC()
		}
		s.handler(tick)
	}
}
