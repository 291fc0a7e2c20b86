package wled

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// StreamConfig contains configuration for socket reconnection.
type StreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
	PingInterval  time.Duration // Keepalive ping period; the read deadline is twice this
}

// DefaultStreamConfig returns sensible defaults for the push socket.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MinBackoff:    1 * time.Second,
		MaxBackoff:    1 * time.Minute,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
		PingInterval:  30 * time.Second,
	}
}

// Handlers receive the socket lifecycle. All callbacks run on the stream's
// goroutine, in order; nil callbacks are skipped.
type Handlers struct {
	OnConnecting func(attempt int)
	OnOpen       func()
	OnPush       func(patch StatePatch)
	OnError      func(err error)
	OnClose      func()
}

// Stream is the persistent /ws connection to one controller.
type Stream struct {
	url    string
	config StreamConfig
	dialer *websocket.Dialer
}

// NewStream creates a push stream for the controller at address.
func NewStream(address string, config StreamConfig) *Stream {
	if config.MinBackoff == 0 {
		config.MinBackoff = time.Second
	}
	if config.MaxBackoff < config.MinBackoff {
		config.MaxBackoff = config.MinBackoff
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}

	return &Stream{
		url:    socketURL(address),
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func socketURL(address string) string {
	base := strings.TrimRight(address, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://"):
		base = "ws://" + base
	}
	return base + "/ws"
}

// Subscribe runs the stream in the background until the returned function is
// called or ctx is done. The unsubscribe function blocks until OnClose has run.
func (s *Stream) Subscribe(ctx context.Context, h Handlers) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := s.Run(ctx, h); err != nil {
			log.Error().Err(err).Str("url", s.url).Msg("Push stream terminated")
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Run connects with automatic reconnection and blocks until ctx is done.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (s *Stream) Run(ctx context.Context, h Handlers) error {
	defer func() {
		if h.OnClose != nil {
			h.OnClose()
		}
	}()

	retryCount := 0
	currentBackoff := s.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if h.OnConnecting != nil {
			h.OnConnecting(retryCount)
		}

		opened, err := s.connect(ctx, h)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.New("connection closed by controller")
		}
		if opened {
			// Reset retry count and backoff after a successful session
			retryCount = 0
			currentBackoff = s.config.MinBackoff
		}

		if h.OnError != nil {
			h.OnError(err)
		}

		retryCount++
		if s.config.MaxReconnects > 0 && retryCount > s.config.MaxReconnects {
			log.Error().
				Int("max_reconnects", s.config.MaxReconnects).
				Str("url", s.url).
				Msg("Push stream: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Str("url", s.url).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Msg("Push stream disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		nextBackoff := time.Duration(float64(currentBackoff) * s.config.Multiplier)
		if nextBackoff > s.config.MaxBackoff {
			nextBackoff = s.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

func (s *Stream) connect(ctx context.Context, h Handlers) (opened bool, err error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to connect to push stream: %w", err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		conn.Close()
		wg.Wait()
	}()

	readTimeout := 2 * s.config.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.Debug().Err(err).Str("url", s.url).Msg("Ping failed")
				}
			}
		}
	}()

	log.Info().Str("url", s.url).Msg("Connected to push stream")
	if h.OnOpen != nil {
		h.OnOpen()
	}

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		// Binary frames carry live LED previews, not state
		if msgType != websocket.TextMessage {
			continue
		}

		patch, ok := ParseMessage(message)
		if !ok {
			log.Trace().Str("url", s.url).Int("bytes", len(message)).Msg("Ignoring non-state message")
			continue
		}
		if h.OnPush != nil {
			h.OnPush(patch)
		}
	}
}

// ParseMessage extracts the state part of a socket message. Messages without
// a state object (acks, errors, info-only) are reported as not ok.
func ParseMessage(message []byte) (StatePatch, bool) {
	var envelope struct {
		State *StatePatch `json:"state"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		log.Warn().Err(err).Msg("Failed to parse push message")
		return StatePatch{}, false
	}
	if envelope.State == nil {
		return StatePatch{}, false
	}
	return *envelope.State, true
}

// Device pairs the HTTP client and the push stream of one controller.
type Device struct {
	*Client
	*Stream
}

// NewDevice creates the HTTP client and push stream for address.
func NewDevice(address string, timeout time.Duration, config StreamConfig) *Device {
	return &Device{
		Client: NewClient(address, timeout),
		Stream: NewStream(address, config),
	}
}
