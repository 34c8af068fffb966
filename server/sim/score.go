package sim

// Score perturbs an outcome's base strength by a noise sample. Volatility is
// read as a full spread, so the standard deviation is half of it. Negative
// scores are fine for comparison.
func Score(baseStrength, volatility, z float64) float64 {
	return baseStrength + z*(volatility/2)
}
