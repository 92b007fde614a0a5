package market

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-playbook/internal/logger"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"go.uber.org/zap"
)

const (
	// writeWait is the deadline for ping writes.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead. Pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// reconnectDelay is the initial backoff between connection attempts,
	// doubling up to maxReconnectDelay.
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// barFrame is the JSON wire shape of one closed-bar push.
type barFrame struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Time      time.Time `json:"time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// WebsocketSource streams closed-bar events from a feed that pushes one
// JSON frame per closed bar. Dropped connections are retried with
// exponential backoff until the context is canceled; dial and decode
// failures are yielded inline so the caller can log them.
type WebsocketSource struct {
	url    string
	dialer *websocket.Dialer
	logger *logger.Logger
}

var _ Source = (*WebsocketSource)(nil)

// NewWebsocketSource creates a source reading bar frames from url.
func NewWebsocketSource(url string, logger *logger.Logger) *WebsocketSource {
	return &WebsocketSource{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Stream implements Source.
func (s *WebsocketSource) Stream(ctx context.Context) iter.Seq2[types.BarEvent, error] {
	return func(yield func(types.BarEvent, error) bool) {
		delay := reconnectDelay

		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				if !yield(types.BarEvent{}, errors.Wrapf(errors.ErrCodeDataSourceUnavailable, err, "failed to dial bar feed %s", s.url)) {
					return
				}

				if !sleepCtx(ctx, delay) {
					return
				}

				delay *= 2
				if delay > maxReconnectDelay {
					delay = maxReconnectDelay
				}

				continue
			}

			delay = reconnectDelay

			s.logger.Info("Connected to bar feed", zap.String("url", s.url))

			if !s.readFrames(ctx, conn, yield) {
				return
			}

			if !sleepCtx(ctx, delay) {
				return
			}
		}
	}
}

// readFrames consumes one connection until it drops. It reports false when
// streaming should stop entirely, true when a reconnect should follow.
func (s *WebsocketSource) readFrames(ctx context.Context, conn *websocket.Conn, yield func(types.BarEvent, error) bool) bool {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)

	go s.keepAlive(ctx, conn, stop)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return false
			}

			s.logger.Warn("Bar feed connection lost", zap.Error(err))

			return yield(types.BarEvent{}, errors.Wrap(errors.ErrCodeFeedClosed, "bar feed connection closed", err))
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		event, err := decodeBarFrame(payload)
		if err != nil {
			if !yield(types.BarEvent{}, err) {
				return false
			}

			continue
		}

		if !yield(event, nil) {
			return false
		}
	}
}

// keepAlive pings the connection until it drops or streaming stops. Closing
// the connection on context cancellation also unblocks the read loop.
func (s *WebsocketSource) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()

			return
		case <-stop:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()

				return
			}
		}
	}
}

// decodeBarFrame parses one wire frame into a bar event.
func decodeBarFrame(payload []byte) (types.BarEvent, error) {
	var frame barFrame

	if err := json.Unmarshal(payload, &frame); err != nil {
		return types.BarEvent{}, errors.Wrap(errors.ErrCodeFrameParseFailed, "malformed bar frame", err)
	}

	timeframe, err := types.ParseTimeframe(frame.Timeframe)
	if err != nil {
		return types.BarEvent{}, errors.Wrapf(errors.ErrCodeFrameParseFailed, err, "bar frame carries unknown timeframe %q", frame.Timeframe)
	}

	if frame.Symbol == "" {
		return types.BarEvent{}, errors.New(errors.ErrCodeFrameParseFailed, "bar frame missing symbol")
	}

	if frame.Time.IsZero() {
		return types.BarEvent{}, errors.New(errors.ErrCodeFrameParseFailed, "bar frame missing time")
	}

	return types.BarEvent{
		Bar: types.Bar{
			Symbol: frame.Symbol,
			Time:   frame.Time,
			Open:   frame.Open,
			High:   frame.High,
			Low:    frame.Low,
			Close:  frame.Close,
			Volume: frame.Volume,
		},
		Timeframe: timeframe,
	}, nil
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
