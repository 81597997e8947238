package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_exec/internal/models"
	"trade_exec/pkg/db"
	"trade_exec/pkg/logger"
)

// Journal — справочный потребитель событий: пишет каждый переход машины
// исполнения и каждую смену состояния брейкера в Postgres. Ядро про него
// не знает — оно только публикует события.
type Journal struct {
	tx db.TxManager
}

func New(tx db.TxManager) *Journal {
	return &Journal{tx: tx}
}

// EnsureSchema — журнальные таблицы append-only, создаём при старте.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	err := j.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctxTx, `
			CREATE TABLE IF NOT EXISTS execution_events (
				id            BIGSERIAL PRIMARY KEY,
				ts            TIMESTAMPTZ NOT NULL,
				inst_id       TEXT        NOT NULL,
				state         TEXT        NOT NULL,
				reason        TEXT        NOT NULL DEFAULT '',
				retryable     BOOLEAN     NOT NULL DEFAULT FALSE,
				order_id      TEXT        NOT NULL DEFAULT '',
				client_order_id TEXT      NOT NULL DEFAULT '',
				quantity      DOUBLE PRECISION NOT NULL DEFAULT 0
			)`); err != nil {
			return err
		}
		_, err := tx.Exec(ctxTx, `
			CREATE TABLE IF NOT EXISTS breaker_events (
				id         BIGSERIAL PRIMARY KEY,
				ts         TIMESTAMPTZ NOT NULL,
				dependency TEXT        NOT NULL,
				from_state TEXT        NOT NULL,
				to_state   TEXT        NOT NULL,
				reason     TEXT        NOT NULL DEFAULT ''
			)`)
		return err
	})
	return errors.Wrap(err, "ensure journal schema")
}

func (j *Journal) OnExecutionEvent(ctx context.Context, ev models.ExecutionEvent) {
	err := j.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO execution_events (ts, inst_id, state, reason, retryable, order_id, client_order_id, quantity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ev.Ts, ev.InstID, string(ev.State), ev.Reason, ev.Retryable, ev.OrderID, ev.ClientOrderID, ev.Quantity,
		)
		return err
	})
	if err != nil {
		// журнал не должен ронять исполнение
		logger.Error("journal: write execution event: %v", err)
	}
}

func (j *Journal) OnBreakerEvent(ctx context.Context, ev models.BreakerEvent) {
	err := j.tx.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO breaker_events (ts, dependency, from_state, to_state, reason)
			VALUES ($1, $2, $3, $4, $5)`,
			ev.Ts, ev.Name, ev.From, ev.To, ev.Reason,
		)
		return err
	})
	if err != nil {
		logger.Error("journal: write breaker event: %v", err)
	}
}
