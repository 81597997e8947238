package models

// Action — что просит сделать сигнальный слой.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Signal — вход от сигнального слоя (индикаторы/ML — не наша зона).
// Цены уже посчитаны снаружи, мы только исполняем.
type Signal struct {
	InstID     string
	Action     Action
	Confidence float64 // 0..1
	Entry      float64
	StopLoss   float64
	TakeProfit float64 // 0 => не задан
	Reason     string
}
