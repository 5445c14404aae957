package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/binex/internal/domain"
)

// Config es la configuración completa del exchange.
type Config struct {
	Exchange    ExchangeConfig    `yaml:"exchange"`
	MarketMaker MarketMakerConfig `yaml:"market_maker"`
	Markets     []MarketConfig    `yaml:"markets"`
	API         APIConfig         `yaml:"api"`
	Settlement  SettlementConfig  `yaml:"settlement"`
	Storage     StorageConfig     `yaml:"storage"`
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
}

// ExchangeConfig controla el motor de matching.
type ExchangeConfig struct {
	MakerFeeBps   int64         `yaml:"maker_fee_bps"`
	TakerFeeBps   int64         `yaml:"taker_fee_bps"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	JournalBuffer int           `yaml:"journal_buffer"`
}

// MarketMakerConfig se traduce a domain.MMConfig. Los ceros toman el default.
type MarketMakerConfig struct {
	UserID string   `yaml:"user_id"`
	Assets []string `yaml:"assets"`

	BaseSpread float64 `yaml:"base_spread"`
	MinSpread  float64 `yaml:"min_spread"`
	MaxSpread  float64 `yaml:"max_spread"`

	BaseSize float64 `yaml:"base_size"`
	MinSize  float64 `yaml:"min_size"`
	MaxSize  float64 `yaml:"max_size"`

	Levels       int     `yaml:"levels"`
	LevelSpacing float64 `yaml:"level_spacing"`

	MaxImbalance         float64 `yaml:"max_imbalance"`
	MaxPositionPerMarket float64 `yaml:"max_position_per_market"`
	SkewFactor           float64 `yaml:"skew_factor"`

	RebalanceStartPct    float64 `yaml:"rebalance_start_pct"`
	CriticalRebalancePct float64 `yaml:"critical_rebalance_pct"`
	StopQuotingLoserPct  float64 `yaml:"stop_quoting_loser_pct"`

	QuoteInterval      time.Duration `yaml:"quote_interval"`
	MarketSyncInterval time.Duration `yaml:"market_sync_interval"`
	CloseBeforeExpiry  time.Duration `yaml:"close_before_expiry"`
	PriceCacheTTL      time.Duration `yaml:"price_cache_ttl"`
	PriceMoveThreshold float64       `yaml:"price_move_threshold"`

	Volatility        map[string]float64 `yaml:"volatility"`
	DefaultVolatility float64            `yaml:"default_volatility"`

	EventBuffer          int `yaml:"event_buffer"`
	PlacementConcurrency int `yaml:"placement_concurrency"`
}

// MarketConfig da de alta un mercado al arrancar. Strike 0 lo deja PENDING.
type MarketConfig struct {
	ID        string        `yaml:"id"`
	Asset     string        `yaml:"asset"`
	Strike    float64       `yaml:"strike"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// APIConfig contiene los endpoints de la plataforma.
type APIConfig struct {
	PlatformBase string `yaml:"platform_base"`
	PriceFeedURL string `yaml:"price_feed_url"`
	OperatorKey  string `yaml:"-"` // sólo desde BINEX_OPERATOR_KEY
}

// SettlementConfig controla el outbox de settlement.
type SettlementConfig struct {
	Workers         int           `yaml:"workers"`
	Buffer          int           `yaml:"buffer"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBaseWait   time.Duration `yaml:"retry_base_wait"`
	RetryMaxWait    time.Duration `yaml:"retry_max_wait"`
	RedriveInterval time.Duration `yaml:"redrive_interval"`
	RedriveBatch    int           `yaml:"redrive_batch"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	DSN    string `yaml:"dsn"`    // ruta SQLite, ":memory:" o DSN de postgres
}

// HTTPConfig controla la API de órdenes.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodifica YAML ya leído y aplica overrides y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Parse: %w", err)
	}
	return &cfg, nil
}

// MMConfig devuelve los parámetros del market maker sobre los defaults.
func (c *Config) MMConfig() domain.MMConfig {
	mm := domain.DefaultMMConfig()
	y := c.MarketMaker

	setStr(&mm.UserID, y.UserID)
	if len(y.Assets) > 0 {
		mm.Assets = make([]string, len(y.Assets))
		for i, a := range y.Assets {
			mm.Assets[i] = strings.ToUpper(a)
		}
	}
	setF(&mm.BaseSpread, y.BaseSpread)
	setF(&mm.MinSpread, y.MinSpread)
	setF(&mm.MaxSpread, y.MaxSpread)
	setF(&mm.BaseSize, y.BaseSize)
	setF(&mm.MinSize, y.MinSize)
	setF(&mm.MaxSize, y.MaxSize)
	setI(&mm.Levels, y.Levels)
	setF(&mm.LevelSpacing, y.LevelSpacing)
	setF(&mm.MaxImbalance, y.MaxImbalance)
	setF(&mm.MaxPositionPerMarket, y.MaxPositionPerMarket)
	setF(&mm.SkewFactor, y.SkewFactor)
	setF(&mm.RebalanceStartPct, y.RebalanceStartPct)
	setF(&mm.CriticalRebalancePct, y.CriticalRebalancePct)
	setF(&mm.StopQuotingLoserPct, y.StopQuotingLoserPct)
	setD(&mm.QuoteInterval, y.QuoteInterval)
	setD(&mm.MarketSyncInterval, y.MarketSyncInterval)
	setD(&mm.CloseBeforeExpiry, y.CloseBeforeExpiry)
	setD(&mm.PriceCacheTTL, y.PriceCacheTTL)
	setF(&mm.PriceMoveThreshold, y.PriceMoveThreshold)
	for asset, vol := range y.Volatility {
		if vol > 0 {
			mm.Volatility[strings.ToUpper(asset)] = vol
		}
	}
	setF(&mm.DefaultVolatility, y.DefaultVolatility)
	setI(&mm.EventBuffer, y.EventBuffer)
	setI(&mm.PlacementConcurrency, y.PlacementConcurrency)
	return mm
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("BINEX_OPERATOR_KEY"); v != "" {
		cfg.API.OperatorKey = v
	}
	if v := os.Getenv("BINEX_DB_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Exchange.MakerFeeBps < 0 {
		cfg.Exchange.MakerFeeBps = 0
	}
	if cfg.Exchange.TakerFeeBps <= 0 {
		cfg.Exchange.TakerFeeBps = 100 // 1%
	}
	if cfg.Exchange.SweepInterval <= 0 {
		cfg.Exchange.SweepInterval = time.Second
	}
	if cfg.Exchange.JournalBuffer <= 0 {
		cfg.Exchange.JournalBuffer = 4096
	}
	if cfg.API.PlatformBase == "" {
		cfg.API.PlatformBase = "http://localhost:9000"
	}
	if cfg.API.PriceFeedURL == "" {
		cfg.API.PriceFeedURL = "ws://localhost:9000/v1/stream"
	}
	if cfg.Settlement.Workers <= 0 {
		cfg.Settlement.Workers = 4
	}
	if cfg.Settlement.Buffer <= 0 {
		cfg.Settlement.Buffer = 1024
	}
	if cfg.Settlement.MaxAttempts <= 0 {
		cfg.Settlement.MaxAttempts = 5
	}
	if cfg.Settlement.RetryBaseWait <= 0 {
		cfg.Settlement.RetryBaseWait = 500 * time.Millisecond
	}
	if cfg.Settlement.RetryMaxWait <= 0 {
		cfg.Settlement.RetryMaxWait = 30 * time.Second
	}
	if cfg.Settlement.RedriveInterval <= 0 {
		cfg.Settlement.RedriveInterval = time.Minute
	}
	if cfg.Settlement.RedriveBatch <= 0 {
		cfg.Settlement.RedriveBatch = 100
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "binex.db"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	for i := range cfg.Markets {
		cfg.Markets[i].Asset = strings.ToUpper(cfg.Markets[i].Asset)
		if cfg.Markets[i].ExpiresIn <= 0 {
			cfg.Markets[i].ExpiresIn = time.Hour
		}
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return fmt.Errorf("postgres driver needs storage.dsn or BINEX_DB_DSN")
	}
	for _, m := range c.Markets {
		if m.ID == "" || m.Asset == "" {
			return fmt.Errorf("market entries need id and asset")
		}
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setF(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setI(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setD(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
