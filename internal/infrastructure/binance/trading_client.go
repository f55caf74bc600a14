package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perp-backend/internal/domain"
)

const (
	TestnetBaseURL = "https://testnet.binancefuture.com"
	filtersTTL     = time.Hour
	recvWindow     = "5000"
)

// TradingClient handles authenticated Binance USDT-M futures requests.
type TradingClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client

	filtersMu sync.RWMutex
	filters   map[string]symbolFilters
	filtersAt time.Time
}

type symbolFilters struct {
	lot      domain.LotSize
	tickSize float64
}

// NewTradingClient creates a new authenticated Binance client
func NewTradingClient(apiKey, secretKey string, isTestnet bool) *TradingClient {
	baseURL := FapiBaseURL
	if isTestnet {
		baseURL = TestnetBaseURL
	}
	return NewTradingClientWithURL(apiKey, secretKey, baseURL)
}

// NewTradingClientWithURL points the client at an arbitrary base URL.
func NewTradingClientWithURL(apiKey, secretKey, baseURL string) *TradingClient {
	return &TradingClient{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		filters:    make(map[string]symbolFilters),
	}
}

var _ domain.ExchangeClient = (*TradingClient)(nil)

// TestConnection tests if API credentials are valid
func (c *TradingClient) TestConnection(ctx context.Context) error {
	_, err := c.GetAccountBalance(ctx)
	return err
}

type orderJSON struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

func (o orderJSON) toDomain() domain.OrderResult {
	return domain.OrderResult{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		Status:        o.Status,
		Price:         parseFloat(o.Price),
		AvgPrice:      parseFloat(o.AvgPrice),
		OrigQty:       parseFloat(o.OrigQty),
		ExecutedQty:   parseFloat(o.ExecutedQty),
		ReduceOnly:    o.ReduceOnly,
		UpdateTime:    o.UpdateTime,
	}
}

// PlaceOrder places a new order. Quantity and price are snapped to the
// symbol's filters when they are known.
func (c *TradingClient) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f, _ := c.symbolFilters(ctx, req.Symbol)

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", req.Side)
	params.Set("type", string(req.Type))
	// Reduce-only closes send the exchange-reported amount as is.
	if req.ReduceOnly {
		params.Set("quantity", decimal.NewFromFloat(req.Quantity).String())
	} else {
		params.Set("quantity", FormatQuantity(req.Quantity, f.lot.StepSize))
	}
	if req.Type == domain.OrderTypeLimit && req.Price > 0 {
		params.Set("price", FormatPrice(req.Price, f.tickSize))
		params.Set("timeInForce", "GTC")
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	params.Set("newOrderRespType", "RESULT")

	var out orderJSON
	if err := c.call(ctx, http.MethodPost, "/fapi/v1/order", params, true, &out); err != nil {
		return nil, err
	}
	res := out.toDomain()
	return &res, nil
}

// CancelOrder cancels an existing order
func (c *TradingClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return c.call(ctx, http.MethodDelete, "/fapi/v1/order", params, true, nil)
}

// GetOrderStatus queries a single order.
func (c *TradingClient) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*domain.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var out orderJSON
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/order", params, true, &out); err != nil {
		return nil, err
	}
	res := out.toDomain()
	return &res, nil
}

// GetOpenOrders retrieves all open orders (or for specific symbol)
func (c *TradingClient) GetOpenOrders(ctx context.Context, symbol string) ([]domain.OrderResult, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}

	var out []orderJSON
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/openOrders", params, true, &out); err != nil {
		return nil, err
	}
	orders := make([]domain.OrderResult, 0, len(out))
	for _, o := range out {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// GetPosition returns the net position for symbol. In hedge mode the legs
// are summed into one signed amount.
func (c *TradingClient) GetPosition(ctx context.Context, symbol string) (*domain.PositionInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var out []struct {
		Symbol           string `json:"symbol"`
		PositionAmt      string `json:"positionAmt"`
		EntryPrice       string `json:"entryPrice"`
		MarkPrice        string `json:"markPrice"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		Leverage         string `json:"leverage"`
	}
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true, &out); err != nil {
		return nil, err
	}

	info := &domain.PositionInfo{Symbol: symbol}
	amt := decimal.Zero
	for _, p := range out {
		if p.Symbol != symbol {
			continue
		}
		a, _ := decimal.NewFromString(p.PositionAmt)
		amt = amt.Add(a)
		info.MarkPrice = parseFloat(p.MarkPrice)
		info.UnRealizedProfit += parseFloat(p.UnRealizedProfit)
		info.Leverage, _ = strconv.Atoi(p.Leverage)
		if !a.IsZero() {
			info.EntryPrice = parseFloat(p.EntryPrice)
		}
	}
	info.PositionAmt = amt.InexactFloat64()
	return info, nil
}

// GetAccountBalance returns the USDT balance.
func (c *TradingClient) GetAccountBalance(ctx context.Context) (*domain.Balance, error) {
	var out []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.call(ctx, http.MethodGet, "/fapi/v2/balance", nil, true, &out); err != nil {
		return nil, err
	}
	for _, b := range out {
		if b.Asset == "USDT" {
			return &domain.Balance{
				Asset:            b.Asset,
				Balance:          parseFloat(b.Balance),
				AvailableBalance: parseFloat(b.AvailableBalance),
			}, nil
		}
	}
	return &domain.Balance{Asset: "USDT"}, nil
}

// SetLeverage sets the leverage for a symbol (USDT-margined futures).
func (c *TradingClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.call(ctx, http.MethodPost, "/fapi/v1/leverage", params, true, nil)
}

// GetMarketLotSize returns the MARKET_LOT_SIZE filter (LOT_SIZE as fallback).
func (c *TradingClient) GetMarketLotSize(ctx context.Context, symbol string) (*domain.LotSize, error) {
	f, err := c.symbolFilters(ctx, symbol)
	if err != nil {
		return nil, err
	}
	lot := f.lot
	return &lot, nil
}

// GetLeverageBracket returns the notional tiers for symbol.
func (c *TradingClient) GetLeverageBracket(ctx context.Context, symbol string) ([]domain.LeverageBracket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var raw json.RawMessage
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/leverageBracket", params, true, &raw); err != nil {
		return nil, err
	}

	type entry struct {
		Symbol   string `json:"symbol"`
		Brackets []struct {
			InitialLeverage int     `json:"initialLeverage"`
			NotionalCap     float64 `json:"notionalCap"`
			NotionalFloor   float64 `json:"notionalFloor"`
		} `json:"brackets"`
	}
	// A single-symbol query may come back as an object or a one-element array.
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		var one entry
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		entries = []entry{one}
	}

	for _, e := range entries {
		if e.Symbol != "" && e.Symbol != symbol {
			continue
		}
		out := make([]domain.LeverageBracket, 0, len(e.Brackets))
		for _, b := range e.Brackets {
			out = append(out, domain.LeverageBracket{
				NotionalFloor:   b.NotionalFloor,
				NotionalCap:     b.NotionalCap,
				InitialLeverage: b.InitialLeverage,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: no leverage bracket for %s", domain.ErrInvalidOrder, symbol)
}

func (c *TradingClient) symbolFilters(ctx context.Context, symbol string) (symbolFilters, error) {
	c.filtersMu.RLock()
	f, ok := c.filters[symbol]
	fresh := time.Since(c.filtersAt) < filtersTTL
	c.filtersMu.RUnlock()
	if ok && fresh {
		return f, nil
	}

	var info struct {
		Symbols []struct {
			Symbol  string                   `json:"symbol"`
			Filters []map[string]interface{} `json:"filters"`
		} `json:"symbols"`
	}
	if err := c.call(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return f, err
	}

	all := make(map[string]symbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		var sf symbolFilters
		var lot, marketLot *domain.LotSize
		for _, flt := range s.Filters {
			switch flt["filterType"] {
			case "LOT_SIZE":
				lot = lotFromFilter(flt)
			case "MARKET_LOT_SIZE":
				marketLot = lotFromFilter(flt)
			case "PRICE_FILTER":
				sf.tickSize = parseFloat(toStr(flt["tickSize"]))
			}
		}
		switch {
		case marketLot != nil && marketLot.StepSize > 0:
			sf.lot = *marketLot
		case lot != nil:
			sf.lot = *lot
		}
		all[s.Symbol] = sf
	}

	c.filtersMu.Lock()
	c.filters = all
	c.filtersAt = time.Now()
	c.filtersMu.Unlock()

	f, ok = all[symbol]
	if !ok {
		return f, fmt.Errorf("%w: unknown symbol %s", domain.ErrInvalidOrder, symbol)
	}
	return f, nil
}

func lotFromFilter(flt map[string]interface{}) *domain.LotSize {
	return &domain.LotSize{
		MinQty:   parseFloat(toStr(flt["minQty"])),
		MaxQty:   parseFloat(toStr(flt["maxQty"])),
		StepSize: parseFloat(toStr(flt["stepSize"])),
	}
}

// call performs the request and decodes a 200 body into out (when non-nil).
func (c *TradingClient) call(ctx context.Context, method, endpoint string, params url.Values, signed bool, out interface{}) error {
	var (
		resp *http.Response
		err  error
	)
	if signed {
		resp, err = c.signedRequest(ctx, method, endpoint, params)
	} else {
		resp, err = c.publicRequest(ctx, endpoint, params)
	}
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return parseBinanceAPIError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *TradingClient) publicRequest(ctx context.Context, endpoint string, params url.Values) (*http.Response, error) {
	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// signedRequest makes a signed API request
func (c *TradingClient) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	if params == nil {
		params = url.Values{}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	params.Set("timestamp", timestamp)
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	signature := c.sign(queryString)
	params.Set("signature", signature)

	fullURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	return c.httpClient.Do(req)
}

// sign creates HMAC SHA256 signature
func (c *TradingClient) sign(message string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
