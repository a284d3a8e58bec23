package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pairflow/logger"
	"pairflow/models"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
	defaultBuffer         = 256
)

// FeedConfig configures a websocket tick feed.
type FeedConfig struct {
	URL            string
	Pairs          []string
	ReconnectDelay time.Duration
	KeepAlive      time.Duration
	Buffer         int
}

// Feed subscribes to a websocket endpoint that publishes one JSON tick per
// message and fans ticks out to one channel per pair. Channels are closed
// when Run returns.
type Feed struct {
	cfg      FeedConfig
	channels map[string]chan models.Tick
	dialer   *websocket.Dialer
	log      *logger.Entry

	received atomic.Int64
	dropped  atomic.Int64
	connects atomic.Int64
	once     sync.Once
}

type feedAck struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type feedMessage struct {
	feedAck
	models.Tick
}

func NewFeed(cfg FeedConfig) (*Feed, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("feed needs at least one pair")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	channels := make(map[string]chan models.Tick, len(cfg.Pairs))
	for _, id := range cfg.Pairs {
		if _, dup := channels[id]; dup {
			return nil, fmt.Errorf("pair %s listed twice", id)
		}
		channels[id] = make(chan models.Tick, cfg.Buffer)
	}
	return &Feed{
		cfg:      cfg,
		channels: channels,
		dialer:   websocket.DefaultDialer,
		log:      logger.GetLogger().WithComponent("feed").WithField("url", cfg.URL),
	}, nil
}

// Channels returns the receive side of every pair channel.
func (f *Feed) Channels() map[string]<-chan models.Tick {
	out := make(map[string]<-chan models.Tick, len(f.channels))
	for id, ch := range f.channels {
		out[id] = ch
	}
	return out
}

// Received counts ticks handed to pair channels.
func (f *Feed) Received() int64 { return f.received.Load() }

// Dropped counts messages that were not ticks of a subscribed pair.
func (f *Feed) Dropped() int64 { return f.dropped.Load() }

// Connects counts successful dials.
func (f *Feed) Connects() int64 { return f.connects.Load() }

// Run connects, subscribes and reads until ctx is done. Dials are throttled
// to one per ReconnectDelay whenever the connection drops.
func (f *Feed) Run(ctx context.Context) error {
	defer f.closeChannels()
	limiter := rate.NewLimiter(rate.Every(f.cfg.ReconnectDelay), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
		if err != nil {
			if ctx.Err() == nil {
				f.log.WithError(err).Warn("failed to connect to tick feed")
			}
			continue
		}
		f.connects.Add(1)
		f.log.Info("connected to tick feed")

		if err := f.subscribe(conn); err != nil {
			f.log.WithError(err).Warn("failed to subscribe to tick feed")
			conn.Close()
			continue
		}

		pingCancel := startPingLoop(ctx, conn, f.cfg.KeepAlive, f.log)
		if err := f.readMessages(ctx, conn); err != nil && ctx.Err() == nil {
			f.log.WithError(err).Warn("tick feed read loop ended")
		}
		pingCancel()
		conn.Close()
	}
}

func (f *Feed) subscribe(conn *websocket.Conn) error {
	args := append([]string(nil), f.cfg.Pairs...)
	sort.Strings(args)
	req := struct {
		Op    string   `json:"op"`
		Args  []string `json:"args"`
		ReqID string   `json:"req_id"`
	}{
		Op:    "subscribe",
		Args:  args,
		ReqID: fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	return conn.WriteJSON(req)
}

func (f *Feed) readMessages(ctx context.Context, conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if err := f.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle routes one message. It blocks while the pair channel is full.
func (f *Feed) handle(ctx context.Context, msg []byte) error {
	var m feedMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		f.dropped.Add(1)
		f.log.WithError(err).Debug("malformed feed message")
		return nil
	}
	if m.Op != "" {
		entry := f.log.WithFields(logger.Fields{"op": m.Op, "success": m.Success})
		if m.Success {
			entry.Debug("feed acknowledgement")
		} else {
			entry.WithField("message", m.Message).Warn("feed rejected request")
		}
		return nil
	}
	ch, ok := f.channels[m.PairID]
	if !ok {
		f.dropped.Add(1)
		f.log.WithPair(m.PairID).Debug("tick for unsubscribed pair")
		return nil
	}
	select {
	case ch <- m.Tick:
		f.received.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) closeChannels() {
	f.once.Do(func() {
		for _, ch := range f.channels {
			close(ch)
		}
		f.log.WithFields(logger.Fields{
			"received": f.received.Load(),
			"dropped":  f.dropped.Load(),
		}).Info("tick feed stopped")
	})
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}
