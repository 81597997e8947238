package runner

import (
	"context"

	"trade_exec/internal/helper"
	"trade_exec/internal/models"
	gwsvc "trade_exec/internal/modules/gateway/service"
)

// HandleSignal гонит один сигнал через машину состояний
// IDLE -> SIZING -> SUBMITTING -> {CONFIRMED, REJECTED, FAILED}.
// Ровно одно терминальное событие на сигнал, что бы ни случилось.
func (r *Runner) HandleSignal(ctx context.Context, sig models.Signal) {
	if sig.Action == models.ActionHold {
		r.emit(ctx, models.ExecutionEvent{
			InstID: sig.InstID,
			State:  models.ExecRejected,
			Reason: "hold signal",
		})
		return
	}

	// --- SIZING ---
	r.emit(ctx, models.ExecutionEvent{InstID: sig.InstID, State: models.ExecSizing})

	balance, err := r.gw.Balance(ctx)
	if err != nil {
		r.emit(ctx, models.ExecutionEvent{
			InstID:    sig.InstID,
			State:     models.ExecFailed,
			Reason:    "balance unavailable: " + err.Error(),
			Retryable: gwsvc.Retryable(err),
		})
		return
	}

	res, err := r.sizer.Size(models.SizingRequest{
		AccountBalance:       balance,
		EntryPrice:           sig.Entry,
		StopLossPrice:        sig.StopLoss,
		TakeProfitPrice:      sig.TakeProfit,
		CurrentPortfolioHeat: r.heat.Current(),
		MaxPortfolioHeat:     r.cfg.Risk.MaxPortfolioHeat,
		MinRiskReward:        r.cfg.Risk.MinRiskReward,
	})
	if err != nil {
		// кривой вход (не бизнес-отказ) — сигнал битый, сеть не трогаем
		r.emit(ctx, models.ExecutionEvent{
			InstID: sig.InstID,
			State:  models.ExecFailed,
			Reason: "malformed sizing input: " + err.Error(),
		})
		return
	}
	if !res.Approved {
		// отказ сайзера терминален: без сетевого вызова
		r.emit(ctx, models.ExecutionEvent{
			InstID: sig.InstID,
			State:  models.ExecRejected,
			Reason: string(res.Reason),
		})
		return
	}

	// размер прижимаем вниз к лоту инструмента: вверх — превышение риска
	meta, err := r.gw.InstrumentMeta(ctx, sig.InstID)
	if err != nil {
		r.emit(ctx, models.ExecutionEvent{
			InstID:    sig.InstID,
			State:     models.ExecFailed,
			Reason:    "instrument meta unavailable: " + err.Error(),
			Retryable: gwsvc.Retryable(err),
		})
		return
	}
	qty := helper.RoundDownToTick(res.Quantity, meta.LotSize)
	if qty <= 0 || qty < meta.MinSize {
		r.emit(ctx, models.ExecutionEvent{
			InstID: sig.InstID,
			State:  models.ExecRejected,
			Reason: string(models.RejectBelowMinSize),
		})
		return
	}
	res.Quantity = qty

	// --- SUBMITTING ---
	side := "buy"
	if sig.Action == models.ActionSell {
		side = "sell"
	}
	ord := models.OrderRequest{
		InstID:   sig.InstID,
		Side:     side,
		Quantity: res.Quantity,
	}

	r.emit(ctx, models.ExecutionEvent{
		InstID:   sig.InstID,
		State:    models.ExecSubmitting,
		Quantity: res.Quantity,
	})

	ack, err := r.gw.PlaceMarketOrder(ctx, ord)
	if err != nil {
		r.emit(ctx, models.ExecutionEvent{
			InstID:    sig.InstID,
			State:     models.ExecFailed,
			Reason:    err.Error(),
			Retryable: gwsvc.Retryable(err), // rate limit / открытый брейкер => можно переподать
			Quantity:  res.Quantity,
		})
		return
	}

	// риск позиции — в heat; снимет его внешний трекер при закрытии
	if balance > 0 {
		r.heat.AddRisk(ack.ClientOrderID, res.RiskAmount/balance)
	}

	r.emit(ctx, models.ExecutionEvent{
		InstID:        sig.InstID,
		State:         models.ExecConfirmed,
		OrderID:       ack.OrderID,
		ClientOrderID: ack.ClientOrderID,
		Quantity:      res.Quantity,
	})
}
