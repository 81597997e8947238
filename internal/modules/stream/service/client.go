package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"trade_exec/internal/models"
	healthsvc "trade_exec/internal/modules/health/service"
	cachesvc "trade_exec/internal/modules/respcache/service"
	"trade_exec/pkg/logger"
)

// Client — WebSocket-поток тикеров: независимый keep-alive-луп рядом с
// основным торговым. Свежие цены кладём в кэш гейтвея, чтобы читающие
// вызовы вообще не ходили в REST, пока поток жив.
type Client struct {
	wsURL   string
	instIDs []string
	dialer  *websocket.Dialer

	caches    *cachesvc.Manager
	state     *healthsvc.State
	tickerTTL time.Duration
}

func NewClient(wsURL string, instIDs []string, caches *cachesvc.Manager, state *healthsvc.State, tickerTTL time.Duration) *Client {
	return &Client{
		wsURL:     wsURL,
		instIDs:   instIDs,
		dialer:    &websocket.Dialer{},
		caches:    caches,
		state:     state,
		tickerTTL: tickerTTL,
	}
}

// Run держит подписку на tickers с реконнектом, пока не отменят контекст.
func (c *Client) Run(ctx context.Context) {
	if len(c.instIDs) == 0 {
		return
	}

	args := make([]map[string]string, 0, len(c.instIDs))
	for _, id := range c.instIDs {
		args = append(args, map[string]string{
			"channel": "tickers",
			"instId":  id,
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		logger.Info("[WS] connect %s, %d instruments", c.wsURL, len(c.instIDs))
		conn, _, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			logger.Warn("[WS] dial error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.state.SetWSConnected(true)

		sub := map[string]any{
			"op":   "subscribe",
			"args": args,
		}
		if err := conn.WriteJSON(sub); err != nil {
			logger.Warn("[WS] subscribe error: %v", err)
			_ = conn.Close()
			c.state.SetWSConnected(false)
			continue
		}

		// keepalive ping каждые 20s — иначе OKX рвёт соединение с 4004
		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(20 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = conn.WriteJSON(map[string]string{"op": "ping"})
				}
			}
		}()

		c.readLoop(ctx, conn)
		close(stopPing)
		_ = conn.Close()
		c.state.SetWSConnected(false)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Warn("[WS] read error: %v", err)
			return
		}

		var frame struct {
			Arg struct {
				Channel string `json:"channel"`
				InstID  string `json:"instId"`
			} `json:"arg"`
			Data []struct {
				Last string `json:"last"`
				Ts   string `json:"ts"`
			} `json:"data"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		if frame.Arg.Channel != "tickers" || len(frame.Data) == 0 {
			continue
		}

		last, err := strconv.ParseFloat(frame.Data[0].Last, 64)
		if err != nil || last <= 0 {
			continue
		}
		tsMs, _ := strconv.ParseInt(frame.Data[0].Ts, 10, 64)

		c.state.MarkTick()
		// тот же неймспейс/ключ, что у gateway.Ticker — REST остаётся запасным путём
		c.caches.Cache("tickers").Put("ticker:"+frame.Arg.InstID, models.Ticker{
			InstID: frame.Arg.InstID,
			Last:   last,
			Ts:     time.UnixMilli(tsMs),
		}, c.tickerTTL)
	}
}
