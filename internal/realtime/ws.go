package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseLagged is the close code sent to a viewer that was dropped for falling
// behind. The viewer is expected to reconnect and resync.
const CloseLagged = 4001

const (
	ActionWatchPromotion   = "watch_promotion"
	ActionUnwatchPromotion = "unwatch_promotion"
)

// Command is the only message a viewer sends.
type Command struct {
	Action string `json:"action"`
	Code   string `json:"code"`
}

type WSServer struct {
	Hub          *Hub
	Upgrader     websocket.Upgrader
	PingInterval time.Duration
	WriteTimeout time.Duration
	Log          *slog.Logger
}

func (s *WSServer) pingInterval() time.Duration {
	if s.PingInterval > 0 {
		return s.PingInterval
	}
	return 30 * time.Second
}

func (s *WSServer) writeTimeout() time.Duration {
	if s.WriteTimeout > 0 {
		return s.WriteTimeout
	}
	return 10 * time.Second
}

// Serve upgrades the request and streams every event routed to groups until
// the viewer leaves, lags or the hub closes.
func (s *WSServer) Serve(w http.ResponseWriter, r *http.Request, groups []Group) error {
	l := s.Log
	if l == nil {
		l = slog.Default()
	}

	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := s.Hub.Subscribe(groups...)
	defer sub.Close()

	done := make(chan struct{})
	go s.readLoop(conn, sub, done, l)

	ping := time.NewTicker(s.pingInterval())
	defer ping.Stop()

	for {
		select {
		case <-done:
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				code, reason := websocket.CloseGoingAway, "shutting down"
				if errors.Is(sub.Err(), ErrLagged) {
					code, reason = CloseLagged, "lagged, resync required"
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason),
					time.Now().Add(s.writeTimeout()))
				return sub.Err()
			}
			data, err := EncodeFrame(ev)
			if err != nil {
				l.Error("ws_encode_failed", "kind", ev.Kind(), "error", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout())); err != nil {
				return err
			}
		}
	}
}

func (s *WSServer) readLoop(conn *websocket.Conn, sub *Subscription, done chan<- struct{}, l *slog.Logger) {
	defer close(done)

	wait := 2 * s.pingInterval()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			l.Debug("ws_bad_command", "error", err)
			continue
		}
		code := strings.TrimSpace(cmd.Code)
		if code == "" {
			continue
		}
		switch cmd.Action {
		case ActionWatchPromotion:
			sub.Join(PromotionGroup(code))
		case ActionUnwatchPromotion:
			sub.Leave(PromotionGroup(code))
		default:
			l.Debug("ws_unknown_action", "action", cmd.Action)
		}
	}
}

// WSStream is the viewer end of a websocket connection.
type WSStream struct {
	conn *websocket.Conn
	stop func() bool

	wmu sync.Mutex
}

// DialWS connects to url. The connection is closed when ctx is done.
func DialWS(ctx context.Context, url string, header http.Header) (*WSStream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	s := &WSStream{conn: conn}
	s.stop = context.AfterFunc(ctx, func() { _ = conn.Close() })
	return s, nil
}

func WSConnector(url string, header http.Header) Connector {
	return func(ctx context.Context) (Stream, error) {
		return DialWS(ctx, url, header)
	}
}

// Next blocks until the next event. Frames of unknown type are skipped.
func (s *WSStream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code == CloseLagged {
				return nil, ErrLagged
			}
			return nil, err
		}
		ev, err := DecodeFrame(data)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

func (s *WSStream) Watch(code string) error {
	return s.send(Command{Action: ActionWatchPromotion, Code: code})
}

func (s *WSStream) Unwatch(code string) error {
	return s.send(Command{Action: ActionUnwatchPromotion, Code: code})
}

func (s *WSStream) send(cmd Command) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteJSON(cmd)
}

func (s *WSStream) Close() error {
	s.stop()
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
