// feed.go — cliente WebSocket del stream de precios y fills.
//
// Run mantiene una sesión viva: dial, subscribe, read loop. Si la sesión cae
// reconecta con backoff exponencial acotado; tras MaxRetries fallos seguidos
// se rinde y el feed queda caído (el MM sigue con cache/strike).
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alejandrodnm/binex/internal/domain"
)

// ErrGaveUp lo devuelve Run cuando se agotan los reintentos.
var ErrGaveUp = errors.New("price feed gave up reconnecting")

// Config del feed.
type Config struct {
	URL          string
	Assets       []string
	MaxRetries   int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxStaleness time.Duration // un tick más viejo que esto no se sirve en GetPrice
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 15 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 45 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxStaleness <= 0 {
		c.MaxStaleness = 5 * time.Second
	}
}

// Feed recibe ticks y fills y los entrega a sink. También implementa
// ports.PriceSource con el último tick de cada activo, sólo mientras la
// sesión está viva y el tick es reciente.
type Feed struct {
	cfg  Config
	sink func(domain.Event)
	now  func() time.Time

	connected atomic.Bool

	mu     sync.RWMutex
	latest map[string]latestTick
}

type latestTick struct {
	quote    domain.PriceQuote
	received time.Time
}

// New crea el feed. sink puede ser nil (solo cache de precios).
func New(cfg Config, sink func(domain.Event)) *Feed {
	cfg.setDefaults()
	return &Feed{
		cfg:    cfg,
		sink:   sink,
		now:    time.Now,
		latest: make(map[string]latestTick),
	}
}

// Connected indica si hay una sesión activa.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// GetPrice implementa ports.PriceSource. Sin conexión o con el tick vencido
// devuelve ok=false para que Chain consulte la siguiente fuente.
func (f *Feed) GetPrice(_ context.Context, asset string) (domain.PriceQuote, bool, error) {
	if !f.connected.Load() {
		return domain.PriceQuote{}, false, nil
	}
	f.mu.RLock()
	t, ok := f.latest[strings.ToUpper(asset)]
	f.mu.RUnlock()
	if !ok || f.now().Sub(t.received) > f.cfg.MaxStaleness {
		return domain.PriceQuote{}, false, nil
	}
	return t.quote, true, nil
}

// Run bloquea hasta que ctx se cancele (nil) o se agoten los reintentos (ErrGaveUp).
func (f *Feed) Run(ctx context.Context) error {
	failures := 0
	for {
		received, err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if received > 0 {
			failures = 0
		}
		failures++
		if failures > f.cfg.MaxRetries {
			slog.Error("pricefeed: giving up, feed stays down", "url", f.cfg.URL, "failures", failures, "err", err)
			return ErrGaveUp
		}

		wait := f.backoff(failures)
		slog.Warn("pricefeed: disconnected, reconnecting",
			"err", err,
			"attempt", failures,
			"wait", wait,
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// backoff: base·2^(n-1) con tope en MaxBackoff.
func (f *Feed) backoff(n int) time.Duration {
	d := time.Duration(float64(f.cfg.BaseBackoff) * math.Pow(2, float64(n-1)))
	if d <= 0 || d > f.cfg.MaxBackoff {
		return f.cfg.MaxBackoff
	}
	return d
}

// session corre una conexión completa. Devuelve cuántos mensajes útiles recibió.
func (f *Feed) session(ctx context.Context) (int, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, header)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	f.connected.Store(true)
	defer f.connected.Store(false)
	slog.Info("pricefeed: connected", "url", f.cfg.URL)

	var writeMu sync.Mutex
	write := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if err := write(subscribeRequest{Op: "subscribe", Channels: []string{"prices", "fills"}, Assets: f.cfg.Assets}); err != nil {
		return 0, fmt.Errorf("subscribe: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	// cierra la conexión al cancelar ctx para desbloquear ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				writeMu.Lock()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				_ = conn.Close()
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(f.cfg.WriteTimeout))
				writeMu.Unlock()
				if err != nil {
					slog.Debug("pricefeed: ping failed", "err", err)
				}
			}
		}
	}()

	received := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

		ev, err := decode(data)
		if err != nil {
			if errors.Is(err, ErrServer) {
				slog.Warn("pricefeed: server error", "err", err)
			} else {
				slog.Debug("pricefeed: bad message", "err", err)
			}
			continue
		}
		received++
		if ev == nil {
			continue
		}
		f.handle(ev)
	}
}

func (f *Feed) handle(ev domain.Event) {
	if tick, ok := ev.(domain.PriceTick); ok {
		f.mu.Lock()
		f.latest[tick.Asset] = latestTick{
			quote:    domain.PriceQuote{Asset: tick.Asset, Price: tick.Price, Timestamp: tick.Timestamp},
			received: f.now(),
		}
		f.mu.Unlock()
	}
	if f.sink != nil {
		f.sink(ev)
	}
}
