package helper

import "math"

// RoundDownToTick прижимает значение вниз к сетке шага. Для размера ордера
// округляем только вниз: вверх — это превышение рассчитанного риска.
func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-12)
	return steps * tick
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-12)
	return steps * tick
}
