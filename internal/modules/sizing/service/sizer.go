package service

import (
	"fmt"
	"math"

	"trade_exec/internal/models"
)

// Params — риск-параметры сайзера. Читаются один раз из конфига.
type Params struct {
	RiskPerTrade     float64 // доля депозита под риском на сделку (0.01 => 1%)
	MaxPortfolioHeat float64 // потолок суммарного риска по портфелю
	MinRiskReward    float64
	KellyCap         float64 // потолок для kelly-доли до умножения на KellyFraction
	KellyFraction    float64 // quarter-Kelly по умолчанию
}

// Sizer — чистый расчёт размера позиции. Никакого I/O, состояние счёта
// приходит в запросе и здесь не мутируется.
type Sizer struct {
	p Params
}

func NewSizer(p Params) *Sizer {
	if p.RiskPerTrade <= 0 {
		p.RiskPerTrade = 0.01
	}
	if p.MaxPortfolioHeat <= 0 {
		p.MaxPortfolioHeat = 0.05
	}
	if p.KellyCap <= 0 {
		p.KellyCap = 0.25
	}
	if p.KellyFraction <= 0 {
		p.KellyFraction = 0.25
	}
	return &Sizer{p: p}
}

// Size считает допустимый размер позиции.
//
// Отказ по бизнес-правилу (нулевой стоп, перегретый портфель, плохой RR,
// нехватка средств) — это НЕ ошибка: возвращаем Approved=false с причиной.
// Ошибка — только кривой вход (balance/entry/stop <= 0).
func (s *Sizer) Size(req models.SizingRequest) (models.SizingResult, error) {
	if req.AccountBalance <= 0 {
		return models.SizingResult{}, fmt.Errorf("account balance <= 0: %v", req.AccountBalance)
	}
	if req.EntryPrice <= 0 || req.StopLossPrice <= 0 {
		return models.SizingResult{}, fmt.Errorf("entry/stop <= 0")
	}
	if req.TakeProfitPrice < 0 {
		return models.SizingResult{}, fmt.Errorf("take profit < 0")
	}

	maxHeat := req.MaxPortfolioHeat
	if maxHeat <= 0 {
		maxHeat = s.p.MaxPortfolioHeat
	}
	minRR := req.MinRiskReward
	if minRR <= 0 {
		minRR = s.p.MinRiskReward
	}

	// 1. дистанция до стопа в цене
	riskPerUnit := math.Abs(req.EntryPrice - req.StopLossPrice)
	if riskPerUnit == 0 {
		return reject(models.RejectUndefinedRisk), nil
	}

	// 2. базовый денежный риск
	riskFraction := s.p.RiskPerTrade

	// 3. fractional Kelly — может только УМЕНЬШИТЬ риск относительно базы
	if req.WinRate > 0 && req.WinRate < 1 && req.AvgWinLossRatio > 0 {
		kelly := req.WinRate - (1-req.WinRate)/req.AvgWinLossRatio
		kelly = math.Max(0, math.Min(kelly, s.p.KellyCap))
		fractional := kelly * s.p.KellyFraction
		riskFraction = math.Min(riskFraction, fractional)
	}

	riskAmount := req.AccountBalance * riskFraction

	// 4. потолок по доступному portfolio heat
	availableHeat := maxHeat - req.CurrentPortfolioHeat
	if availableHeat <= 0 {
		return reject(models.RejectHeatExceeded), nil
	}
	riskAmount = math.Min(riskAmount, availableHeat*req.AccountBalance)

	// 5. размер позиции
	quantity := riskAmount / riskPerUnit

	// 6. risk/reward, если задан тейк
	rr := 0.0
	if req.TakeProfitPrice > 0 {
		rr = math.Abs(req.TakeProfitPrice-req.EntryPrice) / riskPerUnit
		if rr < minRR {
			res := reject(models.RejectBelowMinRR)
			res.RiskRewardRatio = rr
			return res, nil
		}
	}

	// 7. финальные проверки
	if quantity <= 0 {
		return reject(models.RejectZeroQuantity), nil
	}
	if riskAmount > req.AccountBalance {
		return reject(models.RejectInsufficientFunds), nil
	}

	return models.SizingResult{
		Approved:        true,
		Quantity:        quantity,
		RiskAmount:      riskAmount,
		RiskRewardRatio: rr,
	}, nil
}

func reject(reason models.RejectReason) models.SizingResult {
	return models.SizingResult{Approved: false, Reason: reason}
}
