package domain

// BookSnapshot es la foto de un libro (mercado + outcome) hasta cierta profundidad.
// Sequence permite a los clientes sincronizar deltas.
type BookSnapshot struct {
	MarketID string
	Outcome  Outcome
	Bids     []BookLevel // mayor a menor precio
	Asks     []BookLevel // menor a mayor precio
	Sequence int64
}

// BookLevel es un nivel de precio agregado.
type BookLevel struct {
	Price  float64
	Size   float64 // suma de remanentes del nivel
	Total  float64 // acumulado desde el mejor precio hasta este nivel
	Orders int
}

// BestBid devuelve el mejor bid o 0 si no hay.
func (s BookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk devuelve el mejor ask o 0 si no hay.
func (s BookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Midpoint devuelve el punto medio, o 0 si falta un lado.
func (s BookSnapshot) Midpoint() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread devuelve ask - bid, o 0 si falta un lado.
func (s BookSnapshot) Spread() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}
