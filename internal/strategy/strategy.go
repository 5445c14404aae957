package strategy

import (
	"github.com/alejandrodnm/binex/internal/domain"
)

// Inputs es lo que una estrategia necesita para cotizar un mercado en un ciclo.
type Inputs struct {
	Spot             float64
	Strike           float64
	SecondsToExpiry  float64
	Volatility       float64
	TimeRemainingPct float64
	YesPosition      float64
	NoPosition       float64
}

// Strategy define el contrato para pasar de un estado de mercado a una escalera.
// Cada estrategia encapsula un modelo de pricing diferente.
type Strategy interface {
	// Name devuelve el identificador único de la estrategia.
	Name() string

	// Quote calcula la escalera completa. No tiene efectos secundarios.
	Quote(in Inputs, cfg domain.MMConfig) domain.QuoteSet
}

// FairValueName es el nombre de la estrategia por defecto.
const FairValueName = "fair_value"

// FairValueQuoting cotiza alrededor de la probabilidad Black-Scholes (d2).
type FairValueQuoting struct{}

// Name implementa Strategy.
func (FairValueQuoting) Name() string {
	return FairValueName
}

// Quote implementa Strategy.
func (FairValueQuoting) Quote(in Inputs, cfg domain.MMConfig) domain.QuoteSet {
	fv := FairValue(in.Spot, in.Strike, in.SecondsToExpiry, in.Volatility)
	return GenerateQuotes(fv, in.TimeRemainingPct, in.YesPosition, in.NoPosition, cfg)
}

// Registry mantiene las estrategias disponibles indexadas por nombre.
type Registry map[string]Strategy

// NewRegistry crea un registry con las estrategias incluidas.
func NewRegistry() Registry {
	r := make(Registry)
	r.Register(FairValueQuoting{})
	return r
}

// Register añade una estrategia al registry.
func (r Registry) Register(s Strategy) {
	r[s.Name()] = s
}

// Get devuelve la estrategia por nombre.
func (r Registry) Get(name string) (Strategy, bool) {
	s, ok := r[name]
	return s, ok
}
