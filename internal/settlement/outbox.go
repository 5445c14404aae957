// outbox.go — cola de settlement con reintentos.
//
// El exchange encola un intent por fill (agregado) y sigue; los workers lo
// despachan al relayer con backoff exponencial. Un intent que agota los
// intentos queda PENDING y el redrive periódico lo vuelve a encolar.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/binex/internal/domain"
	"github.com/alejandrodnm/binex/internal/metrics"
	"github.com/alejandrodnm/binex/internal/ports"
)

// Config del outbox.
type Config struct {
	Workers         int
	Buffer          int
	MaxAttempts     int           // por pasada; el redrive arranca otra
	RetryBaseWait   time.Duration
	RetryMaxWait    time.Duration
	RedriveInterval time.Duration
	RedriveBatch    int
}

func (c *Config) setDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = 500 * time.Millisecond
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 30 * time.Second
	}
	if c.RedriveInterval <= 0 {
		c.RedriveInterval = time.Minute
	}
	if c.RedriveBatch <= 0 {
		c.RedriveBatch = 500
	}
}

// Outbox implementa ports.SettlementQueue.
type Outbox struct {
	cfg        Config
	dispatcher ports.SettlementDispatcher
	store      ports.IntentStore
	metrics    *metrics.Metrics
	now        func() time.Time

	queue chan domain.SettlementIntent

	mu       sync.Mutex
	inflight map[string]bool
}

// New crea el outbox. store guarda los intents para el redrive y sobrevivir reinicios.
func New(cfg Config, dispatcher ports.SettlementDispatcher, store ports.IntentStore, m *metrics.Metrics) *Outbox {
	cfg.setDefaults()
	return &Outbox{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		metrics:    m,
		now:        time.Now,
		queue:      make(chan domain.SettlementIntent, cfg.Buffer),
		inflight:   make(map[string]bool),
	}
}

// Enqueue persiste el intent y lo pasa a los workers. Si el buffer está lleno
// el intent queda PENDING en el store para el próximo redrive.
func (o *Outbox) Enqueue(ctx context.Context, intent domain.SettlementIntent) error {
	if intent.Status == "" {
		intent.Status = domain.IntentPending
	}
	if err := o.store.SaveIntent(ctx, intent); err != nil {
		return fmt.Errorf("settlement.Enqueue: save intent %s: %w", intent.ID, err)
	}
	o.offer(intent)
	return nil
}

// offer intenta encolar sin bloquear. Devuelve false si no se encoló.
func (o *Outbox) offer(intent domain.SettlementIntent) bool {
	o.mu.Lock()
	if o.inflight[intent.ID] {
		o.mu.Unlock()
		return false
	}
	o.inflight[intent.ID] = true
	o.mu.Unlock()

	select {
	case o.queue <- intent:
		return true
	default:
		o.release(intent.ID)
		slog.Warn("settlement: queue full, left for redrive", "intent", intent.ID)
		return false
	}
}

func (o *Outbox) release(id string) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// Run arranca los workers y el redrive. Bloquea hasta que ctx se cancele.
func (o *Outbox) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case intent := <-o.queue:
					o.process(ctx, intent)
					o.release(intent.ID)
				}
			}
		}()
	}

	ticker := time.NewTicker(o.cfg.RedriveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			o.Redrive(ctx)
		}
	}
}

// Redrive vuelve a encolar los intents PENDING que no se tocaron en el último intervalo.
func (o *Outbox) Redrive(ctx context.Context) int {
	pending, err := o.store.PendingIntents(ctx, o.now().Add(-o.cfg.RedriveInterval), o.cfg.RedriveBatch)
	if err != nil {
		slog.Warn("settlement: load pending failed", "err", err)
		return 0
	}
	o.metrics.SetPending(len(pending))

	n := 0
	for _, in := range pending {
		if o.offer(in) {
			n++
		}
	}
	if n > 0 {
		slog.Info("settlement: redrive", "requeued", n, "pending", len(pending))
	}
	return n
}

// process despacha un intent con hasta MaxAttempts intentos.
func (o *Outbox) process(ctx context.Context, intent domain.SettlementIntent) {
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.backoff(attempt)):
			}
		}

		res, err := o.dispatch(ctx, intent)
		intent.Attempts++
		intent.UpdatedAt = o.now()
		if err == nil {
			intent.Status = domain.IntentSettled
			intent.TxRef = res.TxRef
			intent.LastError = ""
			o.save(ctx, intent)
			o.metrics.ObserveSettlement(string(intent.Kind), "ok")
			slog.Debug("settlement: settled", "intent", intent.ID, "kind", intent.Kind, "tx", res.TxRef)
			return
		}

		intent.LastError = err.Error()
		o.metrics.ObserveSettlement(string(intent.Kind), "error")
		slog.Warn("settlement: dispatch failed",
			"intent", intent.ID,
			"kind", intent.Kind,
			"attempt", intent.Attempts,
			"err", err,
		)
		if ctx.Err() != nil {
			break
		}
	}

	// sigue PENDING: se guarda el estado para el redrive
	o.save(context.WithoutCancel(ctx), intent)
}

func (o *Outbox) dispatch(ctx context.Context, in domain.SettlementIntent) (domain.SettlementResult, error) {
	switch in.Kind {
	case domain.SettlementClose:
		return o.dispatcher.ExecuteClose(ctx, in.Fill, in.MarketRef, in.BuyerAddr, in.SellerAddr)
	case domain.SettlementOpen:
		return o.dispatcher.ExecuteMatch(ctx, in.Fill, in.MarketRef, in.MakerAddr, in.TakerAddr)
	default:
		return domain.SettlementResult{}, fmt.Errorf("settlement: unknown kind %q", in.Kind)
	}
}

func (o *Outbox) save(ctx context.Context, in domain.SettlementIntent) {
	if err := o.store.SaveIntent(ctx, in); err != nil {
		slog.Warn("settlement: save intent failed", "intent", in.ID, "err", err)
	}
}

// backoff: base·2^(attempt-1), con tope en RetryMaxWait.
func (o *Outbox) backoff(attempt int) time.Duration {
	d := o.cfg.RetryBaseWait
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= o.cfg.RetryMaxWait {
			return o.cfg.RetryMaxWait
		}
	}
	return d
}
