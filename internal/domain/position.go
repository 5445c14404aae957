package domain

// Position es la tenencia de un usuario en un mercado. YES y NO son independientes.
type Position struct {
	UserID    string
	MarketID  string
	YesShares float64
	NoShares  float64
	YesCost   float64 // costo acumulado en USDC
	NoCost    float64
}

// Shares devuelve lo que se tiene de un outcome.
func (p Position) Shares(o Outcome) float64 {
	if o == OutcomeYes {
		return p.YesShares
	}
	return p.NoShares
}

// Imbalance es YES - NO.
func (p Position) Imbalance() float64 {
	return p.YesShares - p.NoShares
}

// Apply registra un fill en la posición.
// BID suma shares del outcome. ASK primero cierra shares que ya se tienen
// (el costo baja a costo medio) y el exceso abre el outcome opuesto a 1-price.
func (p *Position) Apply(side Side, outcome Outcome, price, size float64) {
	if side == SideBid {
		p.add(outcome, size, price*size)
		return
	}

	held := p.Shares(outcome)
	closing := min(held, size)
	if closing > 0 {
		p.reduce(outcome, closing)
	}
	if rest := RoundShares(size - closing); rest > 0 {
		p.add(outcome.Opposite(), rest, (1-price)*rest)
	}
}

func (p *Position) add(o Outcome, shares, cost float64) {
	if o == OutcomeYes {
		p.YesShares = RoundShares(p.YesShares + shares)
		p.YesCost = RoundShares(p.YesCost + cost)
		return
	}
	p.NoShares = RoundShares(p.NoShares + shares)
	p.NoCost = RoundShares(p.NoCost + cost)
}

func (p *Position) reduce(o Outcome, shares float64) {
	shrink := func(held, cost *float64) {
		if *held <= 0 {
			return
		}
		avg := *cost / *held
		*held = RoundShares(*held - shares)
		*cost = RoundShares(*cost - avg*shares)
		if *held <= SizeEpsilon {
			*held, *cost = 0, 0
		}
	}
	if o == OutcomeYes {
		shrink(&p.YesShares, &p.YesCost)
		return
	}
	shrink(&p.NoShares, &p.NoCost)
}
