package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mkoval8/venuebot/internal/crypto"
	"github.com/mkoval8/venuebot/internal/domain"
)

// RESTClient is the raw HTTP driver for a spot venue exposing the common
// REST surface (ticker, candles, depth, orders, balances). It signs private
// requests with HMAC headers and maps HTTP failures to the typed errors the
// gateway's breaker and retry logic key off.
type RESTClient struct {
	name          string
	baseURL       string
	publicBaseURL string
	httpClient    *http.Client
	auth          *crypto.HMACAuth
}

var (
	_ domain.Venue      = (*RESTClient)(nil)
	_ domain.PublicFeed = (*RESTClient)(nil)
)

// NewRESTClient creates a driver for one venue account.
//
// publicBaseURL may equal baseURL; it serves the unauthenticated market-data
// endpoints. auth may be nil for a data-only client.
func NewRESTClient(name, baseURL, publicBaseURL string, auth *crypto.HMACAuth, timeout time.Duration) *RESTClient {
	if publicBaseURL == "" {
		publicBaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTClient{
		name:          name,
		baseURL:       baseURL,
		publicBaseURL: publicBaseURL,
		httpClient:    &http.Client{Timeout: timeout},
		auth:          auth,
	}
}

func (c *RESTClient) Name() string { return c.name }

// apiTicker is the wire form of a ticker response.
type apiTicker struct {
	Symbol    string  `json:"symbol"`
	Last      float64 `json:"last,string"`
	Bid       float64 `json:"bid,string"`
	Ask       float64 `json:"ask,string"`
	Timestamp int64   `json:"ts"`
}

func (t apiTicker) toDomain() domain.Ticker {
	return domain.Ticker{
		Symbol:    t.Symbol,
		Last:      t.Last,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Timestamp: time.UnixMilli(t.Timestamp).UTC(),
	}
}

// Ticker fetches the latest quote.
func (c *RESTClient) Ticker(ctx context.Context, symbol string) (domain.Ticker, error) {
	q := url.Values{"symbol": {symbol}}
	body, err := c.doPublic(ctx, http.MethodGet, "/api/v1/ticker", q)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("venue/rest: ticker %s: %w", symbol, err)
	}

	var t apiTicker
	if err := json.Unmarshal(body, &t); err != nil {
		return domain.Ticker{}, fmt.Errorf("venue/rest: decode ticker: %w", err)
	}
	return t.toDomain(), nil
}

// apiCandle is the wire form [openTime, open, high, low, close, volume].
type apiCandle [6]json.Number

func (a apiCandle) toDomain() (domain.Candle, error) {
	ts, err := a[0].Int64()
	if err != nil {
		return domain.Candle{}, err
	}
	vals := make([]float64, 5)
	for i := 1; i < 6; i++ {
		v, err := a[i].Float64()
		if err != nil {
			return domain.Candle{}, err
		}
		vals[i-1] = v
	}
	return domain.Candle{
		Timestamp: time.UnixMilli(ts).UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

func decodeCandles(body []byte) ([]domain.Candle, error) {
	var raw []apiCandle
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode candles: %w", err)
	}
	candles := make([]domain.Candle, 0, len(raw))
	for _, r := range raw {
		c, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode candle: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Candles fetches up to limit recent OHLCV bars, oldest first.
func (c *RESTClient) Candles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	q := url.Values{
		"symbol":   {symbol},
		"interval": {timeframe},
		"limit":    {strconv.Itoa(limit)},
	}
	body, err := c.doPublic(ctx, http.MethodGet, "/api/v1/candles", q)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: candles %s: %w", symbol, err)
	}
	candles, err := decodeCandles(body)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: %w", err)
	}
	return candles, nil
}

// PublicCandles is Candles; the candle endpoint is unauthenticated already.
func (c *RESTClient) PublicCandles(ctx context.Context, symbol, timeframe string, limit int) ([]domain.Candle, error) {
	return c.Candles(ctx, symbol, timeframe, limit)
}

// CandlesBatch fetches up to limit bars starting at from, oldest first. The
// history fetcher pages through time with it.
func (c *RESTClient) CandlesBatch(ctx context.Context, symbol, timeframe string, from time.Time, limit int) ([]domain.Candle, error) {
	q := url.Values{
		"symbol":    {symbol},
		"interval":  {timeframe},
		"limit":     {strconv.Itoa(limit)},
		"startTime": {strconv.FormatInt(from.UnixMilli(), 10)},
	}
	body, err := c.doPublic(ctx, http.MethodGet, "/api/v1/candles", q)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: candle batch %s: %w", symbol, err)
	}
	candles, err := decodeCandles(body)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: %w", err)
	}
	return candles, nil
}

type apiBookLevel [2]json.Number

// OrderBook fetches a depth snapshot.
func (c *RESTClient) OrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	q := url.Values{
		"symbol": {symbol},
		"limit":  {strconv.Itoa(depth)},
	}
	body, err := c.doPublic(ctx, http.MethodGet, "/api/v1/depth", q)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/rest: order book %s: %w", symbol, err)
	}

	var raw struct {
		Bids []apiBookLevel `json:"bids"`
		Asks []apiBookLevel `json:"asks"`
		TS   int64          `json:"ts"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/rest: decode order book: %w", err)
	}

	toLevels := func(raw []apiBookLevel) ([]domain.BookLevel, error) {
		levels := make([]domain.BookLevel, 0, len(raw))
		for _, l := range raw {
			price, err := l[0].Float64()
			if err != nil {
				return nil, err
			}
			size, err := l[1].Float64()
			if err != nil {
				return nil, err
			}
			levels = append(levels, domain.BookLevel{Price: price, Size: size})
		}
		return levels, nil
	}

	bids, err := toLevels(raw.Bids)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/rest: decode bids: %w", err)
	}
	asks, err := toLevels(raw.Asks)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("venue/rest: decode asks: %w", err)
	}

	return domain.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(raw.TS).UTC(),
	}, nil
}

// apiOrder is the wire form of an order.
type apiOrder struct {
	ID        string  `json:"orderId"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Type      string  `json:"type"`
	Price     float64 `json:"price,string"`
	Amount    float64 `json:"amount,string"`
	Filled    float64 `json:"filled,string"`
	Fee       float64 `json:"fee,string"`
	Status    string  `json:"status"`
	CreatedAt int64   `json:"createdAt"`
}

func (o apiOrder) toDomain() domain.Order {
	return domain.Order{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      domain.OrderSide(o.Side),
		Type:      domain.OrderType(o.Type),
		Price:     o.Price,
		Amount:    o.Amount,
		Filled:    o.Filled,
		Fee:       o.Fee,
		Status:    domain.OrderStatus(o.Status),
		CreatedAt: time.UnixMilli(o.CreatedAt).UTC(),
	}
}

// CreateOrder submits an order. The idempotency key travels as the venue's
// client order id, so the venue side also dedupes on retry.
func (c *RESTClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	payload := map[string]any{
		"symbol": req.Symbol,
		"side":   string(req.Side),
		"type":   string(req.Type),
		"amount": strconv.FormatFloat(req.Amount, 'f', -1, 64),
	}
	if req.Type == domain.OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
	}
	if req.IdempotencyKey != "" {
		payload["clientOrderId"] = req.IdempotencyKey
	}

	body, err := c.doPrivate(ctx, http.MethodPost, "/api/v1/orders", payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("venue/rest: create order: %w", err)
	}

	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.Order{}, fmt.Errorf("venue/rest: decode order: %w", err)
	}
	return o.toDomain(), nil
}

// CancelOrder cancels a resting order.
func (c *RESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]any{
		"symbol":  symbol,
		"orderId": orderID,
	}
	if _, err := c.doPrivate(ctx, http.MethodDelete, "/api/v1/orders", payload); err != nil {
		return fmt.Errorf("venue/rest: cancel order %s: %w", orderID, err)
	}
	return nil
}

// FetchOrder returns the current state of an order.
func (c *RESTClient) FetchOrder(ctx context.Context, symbol, orderID string) (domain.Order, error) {
	path := "/api/v1/orders/" + url.PathEscape(orderID) + "?symbol=" + url.QueryEscape(symbol)
	body, err := c.doPrivate(ctx, http.MethodGet, path, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("venue/rest: fetch order %s: %w", orderID, err)
	}

	var o apiOrder
	if err := json.Unmarshal(body, &o); err != nil {
		return domain.Order{}, fmt.Errorf("venue/rest: decode order: %w", err)
	}
	return o.toDomain(), nil
}

// OpenOrders lists resting orders for a symbol.
func (c *RESTClient) OpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	path := "/api/v1/orders?status=open&symbol=" + url.QueryEscape(symbol)
	body, err := c.doPrivate(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: open orders %s: %w", symbol, err)
	}

	var raw []apiOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("venue/rest: decode orders: %w", err)
	}
	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toDomain())
	}
	return orders, nil
}

// Balances returns the account balances keyed by asset.
func (c *RESTClient) Balances(ctx context.Context) (map[string]domain.Balance, error) {
	body, err := c.doPrivate(ctx, http.MethodGet, "/api/v1/balances", nil)
	if err != nil {
		return nil, fmt.Errorf("venue/rest: balances: %w", err)
	}

	var raw []struct {
		Asset string  `json:"asset"`
		Free  float64 `json:"free,string"`
		Used  float64 `json:"used,string"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("venue/rest: decode balances: %w", err)
	}

	balances := make(map[string]domain.Balance, len(raw))
	for _, b := range raw {
		balances[b.Asset] = domain.Balance{
			Free:  b.Free,
			Used:  b.Used,
			Total: b.Free + b.Used,
		}
	}
	return balances, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doPublic sends an unauthenticated GET against the public base URL.
func (c *RESTClient) doPublic(ctx context.Context, method, path string, q url.Values) ([]byte, error) {
	u := c.publicBaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// doPrivate builds, signs, and sends an authenticated request.
func (c *RESTClient) doPrivate(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("no credentials configured: %w", domain.ErrUnauthorized)
	}

	var bodyReader io.Reader
	var bodyStr string
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	return c.do(req)
}

// do sends the request and maps the response to the typed error taxonomy:
// transport failures and 5xx are transient, 429 is rate limiting, 401/403
// is auth, 404 is not-found, and remaining 4xx are permanent rejections.
func (c *RESTClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.TransientVenueError{Venue: c.name, Op: req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &domain.TransientVenueError{Venue: c.name, Op: req.URL.Path, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP 429: %w", domain.ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("HTTP 404: %w", domain.ErrNotFound)
	case resp.StatusCode >= 500:
		return nil, &domain.TransientVenueError{
			Venue: c.name,
			Op:    req.URL.Path,
			Err:   fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 256)),
		}
	default:
		return nil, fmt.Errorf("HTTP %d: %s: %w", resp.StatusCode, truncate(body, 256), venueRejectionError(body))
	}
}

// venueRejectionError inspects a 4xx body for the venue's error code and
// picks the matching sentinel.
func venueRejectionError(body []byte) error {
	var e struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Code == "INSUFFICIENT_FUNDS" {
		return domain.ErrInsufficientFunds
	}
	return domain.ErrInvalidOrder
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
