package strategy

import "math"

const secondsPerYear = 365 * 24 * 3600

// minStdDev: por debajo de esta desviación el mercado se trata como vencido.
const minStdDev = 1e-4

// FairValue devuelve la probabilidad de que spot termine por encima de strike
// al vencimiento: Φ(d2) con d2 = ln(S/K) / (σ·√T), T en años.
// El resultado siempre está en [0.01, 0.99].
func FairValue(spot, strike, secondsToExpiry, annualVol float64) float64 {
	if spot <= 0 || strike <= 0 {
		return 0.5
	}
	if secondsToExpiry <= 0 {
		return expiredValue(spot, strike)
	}

	t := secondsToExpiry / secondsPerYear
	sd := annualVol * math.Sqrt(t)
	if math.IsNaN(sd) || sd < minStdDev {
		return expiredValue(spot, strike)
	}

	d2 := math.Log(spot/strike) / sd
	return clampProbability(NormCDF(d2))
}

func expiredValue(spot, strike float64) float64 {
	if spot > strike {
		return 0.99
	}
	return 0.01
}

func clampProbability(p float64) float64 {
	return math.Max(0.01, math.Min(0.99, p))
}

// NormCDF es la CDF de la normal estándar, Abramowitz & Stegun 26.2.17
// (error absoluto < 7.5e-8).
func NormCDF(x float64) float64 {
	const (
		p  = 0.2316419
		b1 = 0.319381530
		b2 = -0.356563782
		b3 = 1.781477937
		b4 = -1.821255978
		b5 = 1.330274429
	)
	if x < 0 {
		return 1 - NormCDF(-x)
	}
	t := 1 / (1 + p*x)
	pdf := math.Exp(-x*x/2) / math.Sqrt(2*math.Pi)
	poly := t * (b1 + t*(b2+t*(b3+t*(b4+t*b5))))
	return 1 - pdf*poly
}
