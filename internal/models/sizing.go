package models

// RejectReason — машиночитаемая причина отказа сайзера.
type RejectReason string

const (
	RejectNone              RejectReason = ""
	RejectUndefinedRisk     RejectReason = "undefined_risk" // entry == stop
	RejectInsufficientFunds RejectReason = "insufficient_funds"
	RejectBelowMinRR        RejectReason = "below_min_risk_reward"
	RejectHeatExceeded      RejectReason = "heat_exceeded"
	RejectZeroQuantity      RejectReason = "zero_quantity"
	RejectBelowMinSize      RejectReason = "below_min_size" // после округления к лоту
)

// SizingRequest — вход чистой функции сайзинга. Никакого I/O.
type SizingRequest struct {
	AccountBalance  float64
	EntryPrice      float64
	StopLossPrice   float64
	TakeProfitPrice float64 // 0 => не задан

	// Опциональные входы Kelly. WinRate в (0,1), иначе Kelly не применяется.
	WinRate         float64
	AvgWinLossRatio float64

	CurrentPortfolioHeat float64
	MaxPortfolioHeat     float64
	MinRiskReward        float64
}

// SizingResult — решение сайзера. Отказ по бизнес-правилу — это не ошибка.
type SizingResult struct {
	Approved        bool
	Quantity        float64
	RiskAmount      float64
	RiskRewardRatio float64 // 0, если TP не задан
	Reason          RejectReason
}
