package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"trade_exec/internal/models"
)

// Connector — то, что гейтвей зовёт по сети. За этим интерфейсом прячется
// конкретная биржа: подпись, формат — не забота resilience-ядра.
type Connector interface {
	Ticker(ctx context.Context, instID string) (models.Ticker, error)
	Balance(ctx context.Context) (float64, error)
	PlaceMarket(ctx context.Context, ord models.OrderRequest) (models.OrderAck, error)
	CancelOrder(ctx context.Context, instID, orderID string) error
	OrderStatus(ctx context.Context, instID, clientOrderID string) (models.OrderAck, error)
	OpenPositions(ctx context.Context) ([]models.OpenPosition, error)
	InstrumentMeta(ctx context.Context, instID string) (models.InstrumentMeta, error)
}

// OKXClient — REST-клиент OKX v5 с пулом соединений и подписью запросов.
type OKXClient struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
}

type OKXConfig struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	Passphrase string
	Timeout    time.Duration
}

func NewOKXClient(cfg OKXConfig) *OKXClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.okx.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &OKXClient{
		http:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		passph:    cfg.Passphrase,
	}
}

func (c *OKXClient) sign(ts, method, requestPath, body string) string {
	msg := ts + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// do выполняет подписанный запрос и разводит исход по таксономии ошибок.
func (c *OKXClient) do(ctx context.Context, method, requestPath string, payload []byte) ([]byte, error) {
	var bodyReader io.Reader
	bodyStr := ""
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
		bodyStr = string(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, bodyStr))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if err := classifyStatus(resp.StatusCode, string(data)); err != nil {
		return nil, err
	}
	return data, nil
}

// okxEnvelope — общий конверт ответов v5. code != "0" — бизнес-ошибка биржи.
type okxEnvelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (c *OKXClient) Ticker(ctx context.Context, instID string) (models.Ticker, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker?instId="+instID, nil)
	if err != nil {
		return models.Ticker{}, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			InstID string `json:"instId"`
			Last   string `json:"last"`
			Ts     string `json:"ts"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return models.Ticker{}, fmt.Errorf("ticker unmarshal: %w", err)
	}
	if r.Code != "0" || len(r.Data) == 0 {
		return models.Ticker{}, &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("okx ticker error: code=%s msg=%s", r.Code, r.Msg)}
	}

	last, _ := strconv.ParseFloat(r.Data[0].Last, 64)
	tsMs, _ := strconv.ParseInt(r.Data[0].Ts, 10, 64)
	return models.Ticker{
		InstID: r.Data[0].InstID,
		Last:   last,
		Ts:     time.UnixMilli(tsMs),
	}, nil
}

// Balance — equity в USDT.
func (c *OKXClient) Balance(ctx context.Context) (float64, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/balance?ccy=USDT", nil)
	if err != nil {
		return 0, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			TotalEq string `json:"totalEq"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return 0, fmt.Errorf("balance unmarshal: %w", err)
	}
	if r.Code != "0" || len(r.Data) == 0 {
		return 0, &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("okx balance error: code=%s msg=%s", r.Code, r.Msg)}
	}

	eq, _ := strconv.ParseFloat(r.Data[0].TotalEq, 64)
	return eq, nil
}

func (c *OKXClient) PlaceMarket(ctx context.Context, ord models.OrderRequest) (models.OrderAck, error) {
	body := map[string]string{
		"instId":  ord.InstID,
		"tdMode":  "cross",
		"side":    ord.Side,
		"ordType": "market",
		"sz":      formatSize(ord.Quantity),
		"clOrdId": ord.ClientOrderID,
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return models.OrderAck{}, fmt.Errorf("place order marshal: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", payload)
	if err != nil {
		return models.OrderAck{}, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			OrdID   string `json:"ordId"`
			ClOrdID string `json:"clOrdId"`
			SCode   string `json:"sCode"`
			SMsg    string `json:"sMsg"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return models.OrderAck{}, fmt.Errorf("place order unmarshal: %w", err)
	}
	if r.Code != "0" || len(r.Data) == 0 || r.Data[0].SCode != "0" {
		sMsg := r.Msg
		if len(r.Data) > 0 {
			sMsg = r.Data[0].SMsg
		}
		return models.OrderAck{}, &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("okx order error: code=%s msg=%s", r.Code, sMsg)}
	}

	return models.OrderAck{
		OrderID:       r.Data[0].OrdID,
		ClientOrderID: r.Data[0].ClOrdID,
		InstID:        ord.InstID,
		Status:        "live",
	}, nil
}

func (c *OKXClient) CancelOrder(ctx context.Context, instID, orderID string) error {
	body := map[string]string{"instId": instID, "ordId": orderID}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("cancel order marshal: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", payload)
	if err != nil {
		return err
	}

	var r okxEnvelope
	if err := sonic.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("cancel order unmarshal: %w", err)
	}
	if r.Code != "0" {
		return &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("okx cancel error: code=%s msg=%s", r.Code, r.Msg)}
	}
	return nil
}

// OrderStatus — идемпотентное чтение по clOrdId. Этим же запросом
// сверяем судьбу ордера после неоднозначного таймаута.
func (c *OKXClient) OrderStatus(ctx context.Context, instID, clientOrderID string) (models.OrderAck, error) {
	path := "/api/v5/trade/order?instId=" + instID + "&clOrdId=" + clientOrderID
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return models.OrderAck{}, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			OrdID   string `json:"ordId"`
			ClOrdID string `json:"clOrdId"`
			InstID  string `json:"instId"`
			State   string `json:"state"`
			AccFill string `json:"accFillSz"`
			AvgPx   string `json:"avgPx"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return models.OrderAck{}, fmt.Errorf("order status unmarshal: %w", err)
	}
	if r.Code != "0" || len(r.Data) == 0 {
		return models.OrderAck{}, &RemoteError{Status: http.StatusNotFound, Body: fmt.Sprintf("okx order status: code=%s msg=%s", r.Code, r.Msg)}
	}

	filled, _ := strconv.ParseFloat(r.Data[0].AccFill, 64)
	avgPx, _ := strconv.ParseFloat(r.Data[0].AvgPx, 64)
	return models.OrderAck{
		OrderID:       r.Data[0].OrdID,
		ClientOrderID: r.Data[0].ClOrdID,
		InstID:        r.Data[0].InstID,
		Status:        r.Data[0].State,
		FilledQty:     filled,
		AvgPrice:      avgPx,
	}, nil
}

func (c *OKXClient) OpenPositions(ctx context.Context) ([]models.OpenPosition, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", nil)
	if err != nil {
		return nil, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			InstID  string `json:"instId"`
			PosSide string `json:"posSide"`
			Pos     string `json:"pos"`
			AvgPx   string `json:"avgPx"`
			Last    string `json:"last"`
			Upl     string `json:"upl"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("positions unmarshal: %w", err)
	}
	if r.Code != "0" {
		return nil, &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("okx positions error: code=%s msg=%s", r.Code, r.Msg)}
	}

	res := make([]models.OpenPosition, 0, len(r.Data))
	for _, d := range r.Data {
		pos, _ := strconv.ParseFloat(d.Pos, 64)
		avgPx, _ := strconv.ParseFloat(d.AvgPx, 64)
		lastPx, _ := strconv.ParseFloat(d.Last, 64)
		upl, _ := strconv.ParseFloat(d.Upl, 64)

		side := "long"
		if d.PosSide == "short" {
			side = "short"
		}
		res = append(res, models.OpenPosition{
			InstID:     d.InstID,
			Side:       side,
			Size:       pos,
			EntryPrice: avgPx,
			LastPrice:  lastPx,
			UnrlPnl:    upl,
		})
	}
	return res, nil
}

// InstrumentMeta — лот, минимальный размер и шаг цены. Публичный эндпоинт.
func (c *OKXClient) InstrumentMeta(ctx context.Context, instID string) (models.InstrumentMeta, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments?instType=SPOT&instId="+instID, nil)
	if err != nil {
		return models.InstrumentMeta{}, err
	}

	var r struct {
		okxEnvelope
		Data []struct {
			InstID string `json:"instId"`
			State  string `json:"state"`
			LotSz  string `json:"lotSz"`
			MinSz  string `json:"minSz"`
			TickSz string `json:"tickSz"`
		} `json:"data"`
	}
	if err := sonic.Unmarshal(data, &r); err != nil {
		return models.InstrumentMeta{}, fmt.Errorf("instrument meta unmarshal: %w", err)
	}
	if r.Code != "0" || len(r.Data) == 0 {
		return models.InstrumentMeta{}, &RemoteError{Status: http.StatusNotFound, Body: fmt.Sprintf("okx instruments error: code=%s msg=%s", r.Code, r.Msg)}
	}
	if r.Data[0].State != "" && r.Data[0].State != "live" {
		return models.InstrumentMeta{}, &RemoteError{Status: http.StatusBadRequest, Body: fmt.Sprintf("instrument %s not live: state=%s", instID, r.Data[0].State)}
	}

	lot, _ := strconv.ParseFloat(r.Data[0].LotSz, 64)
	minSz, _ := strconv.ParseFloat(r.Data[0].MinSz, 64)
	tick, _ := strconv.ParseFloat(r.Data[0].TickSz, 64)
	return models.InstrumentMeta{
		InstID:   r.Data[0].InstID,
		LotSize:  lot,
		MinSize:  minSz,
		TickSize: tick,
	}, nil
}

func formatSize(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
