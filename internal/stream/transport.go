package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/dispatch"
)

// WebSocketConfig configures the live-event transport.
type WebSocketConfig struct {
	URL              string
	AuthToken        string
	UserAgent        string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	ReadTimeout      time.Duration
}

// WebSocketSubscriber opens one websocket per scope against the signal
// feed. The server pushes created/updated/expired frames in receipt
// order for the subscribed scope.
type WebSocketSubscriber struct {
	cfg WebSocketConfig
}

func NewWebSocketSubscriber(cfg WebSocketConfig) *WebSocketSubscriber {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "signalcache/1.0 (live-signal cache)"
	}
	return &WebSocketSubscriber{cfg: cfg}
}

type subscribeFrame struct {
	Op    string `json:"op"`
	Scope string `json:"scope"`
}

// Subscribe dials the feed, authenticates, sends the subscribe frame
// and starts the read and ping loops.
func (w *WebSocketSubscriber) Subscribe(ctx context.Context, scope string, onEvent func(dispatch.Event)) (Subscription, error) {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed URL: %w", err)
	}
	q := u.Query()
	q.Set("scope", scope)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: w.cfg.HandshakeTimeout}
	headers := http.Header{}
	headers.Set("User-Agent", w.cfg.UserAgent)
	if w.cfg.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+w.cfg.AuthToken)
	}

	log.Info().Str("scope", scope).Str("url", u.String()).Msg("Dialing signal feed")
	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("feed dial failed: %w", err)
	}

	frame, err := json.Marshal(subscribeFrame{Op: "subscribe", Scope: scope})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to encode subscribe frame: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send subscribe frame: %w", err)
	}

	sub := &wsSubscription{
		conn:    conn,
		scope:   scope,
		done:    make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	go sub.readLoop(onEvent, w.cfg.ReadTimeout)
	go sub.pingLoop(w.cfg.PingInterval)
	return sub, nil
}

type wsSubscription struct {
	conn    *websocket.Conn
	scope   string
	done    chan error
	closeCh chan struct{}
	once    sync.Once
}

func (s *wsSubscription) Done() <-chan error { return s.done }

func (s *wsSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscription) fail(err error) {
	select {
	case s.done <- err:
	default:
	}
}

func (s *wsSubscription) readLoop(onEvent func(dispatch.Event), readTimeout time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("scope", s.scope).Msg("Feed read loop panic")
			s.fail(fmt.Errorf("read loop panic: %v", r))
		}
	}()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(readTimeout))
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				// Deliberate close, not a transport failure.
			default:
				log.Warn().Err(err).Str("scope", s.scope).Msg("Feed read failed")
				s.fail(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var ev dispatch.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Str("scope", s.scope).Msg("Skipping undecodable frame")
			continue
		}
		ev.ReceivedAt = time.Now()
		onEvent(ev)
	}
}

func (s *wsSubscription) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Str("scope", s.scope).Msg("Feed ping failed")
				s.fail(err)
				return
			}
		}
	}
}
