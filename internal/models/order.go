package models

import "time"

// OrderRequest — то, что уходит на биржу после одобрения сайзером.
type OrderRequest struct {
	InstID        string
	Side          string // "buy"/"sell"
	Quantity      float64
	ClientOrderID string // idempotency key, генерим uuid до первой отправки
}

// OrderAck — подтверждение от биржи.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	InstID        string
	Status        string // "live"/"filled"/"canceled"/"rejected"
	FilledQty     float64
	AvgPrice      float64
}

// InstrumentMeta — торговые параметры инструмента. Меняются редко,
// кэшируются с длинным TTL.
type InstrumentMeta struct {
	InstID   string
	LotSize  float64 // шаг размера
	MinSize  float64 // минимальный размер ордера
	TickSize float64 // шаг цены
}

// Ticker — последняя цена инструмента (кэшируемое чтение).
type Ticker struct {
	InstID string
	Last   float64
	Ts     time.Time
}

// OpenPosition — открытая позиция, урезанный вид для health/журнала.
type OpenPosition struct {
	InstID     string
	Side       string // "long"/"short"
	Size       float64
	EntryPrice float64
	LastPrice  float64
	UnrlPnl    float64
}
