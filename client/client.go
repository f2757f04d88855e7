// Package client sends notification messages to a webhook forwarding
// gateway. Helpers build the trade, position, error and status payload
// shapes the gateway's routes and templates expect.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Event types understood by the gateway's filters and templates.
const (
	EventTrade    = "trade"
	EventPosition = "position_update"
	EventError    = "error"
	EventStatus   = "status"
	EventSystem   = "system"
)

// Status levels for SendStatus.
const (
	StatusInfo    = "info"
	StatusWarning = "warning"
	StatusSuccess = "success"
	StatusError   = "error"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ErrNoEndpoint is returned when the client has no webhook URL configured.
var ErrNoEndpoint = errors.New("webhook endpoint not configured")

// Option configures a Client.
type Option func(*Client)

// WithHeaders adds headers to every outgoing request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithTimeout sets the per-request timeout. The default is 10 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = d }
}

// WithLogger sets the logger used for send failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client posts notifications to one webhook URL.
type Client struct {
	url     string
	headers map[string]string
	hc      *http.Client
	logger  *slog.Logger
}

// New creates a client for the given webhook URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		headers: make(map[string]string),
		hc:      &http.Client{Timeout: 10 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts an arbitrary notification document. A response outside the
// 2xx range is an error.
func (c *Client) Send(ctx context.Context, notification map[string]any) error {
	if c.url == "" {
		return ErrNoEndpoint
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Error("notification send failed", "err", err)
		return fmt.Errorf("send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("notification rejected", "status", resp.StatusCode, "body", string(excerpt))
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Trade describes one executed or skipped trade. Zero-valued optional
// fields are left out of the notification.
type Trade struct {
	Symbol          string
	Side            string
	Price           float64
	Amount          float64
	Operation       string
	TraderName      string
	Close           bool
	Skipped         bool
	SkipReason      string
	Leverage        int
	StopLossPrice   float64
	TakeProfitPrice float64
	Extra           map[string]any
}

// SendTrade sends a trade notification with a formatted description.
func (c *Client) SendTrade(ctx context.Context, t Trade) error {
	operation := t.Operation
	if operation == "" {
		switch {
		case t.Close:
			operation = "平仓"
		case t.Side == SideBuy:
			operation = "买入"
		default:
			operation = "卖出"
		}
		if t.Skipped {
			operation = "跳过" + operation
		}
	}

	value := t.Price * t.Amount

	data := map[string]any{
		"symbol":    t.Symbol,
		"side":      t.Side,
		"price":     t.Price,
		"amount":    t.Amount,
		"value":     value,
		"operation": operation,
		"timestamp": nowMillis(),
		"skipped":   t.Skipped,
	}
	if t.TraderName != "" {
		data["trader_name"] = t.TraderName
	}
	if t.Leverage != 0 {
		data["leverage"] = t.Leverage
	}
	if t.StopLossPrice != 0 {
		data["stop_loss_price"] = t.StopLossPrice
	}
	if t.TakeProfitPrice != 0 {
		data["take_profit_price"] = t.TakeProfitPrice
	}
	if t.SkipReason != "" {
		data["skip_reason"] = t.SkipReason
	}
	for k, v := range t.Extra {
		data[k] = v
	}

	emoji := "🔴"
	switch {
	case t.Skipped:
		emoji = "⏭️"
	case t.Close:
		emoji = "🔄"
	case t.Side == SideBuy:
		emoji = "🟢"
	}

	parts := []string{
		fmt.Sprintf("%s **%s**: %s", emoji, operation, t.Symbol),
		fmt.Sprintf("💰 数量: %s @ %s", num(t.Amount), num(t.Price)),
		fmt.Sprintf("💵 总价值: $%.2f", value),
	}
	if t.Leverage != 0 {
		parts = append(parts, fmt.Sprintf("📊 杠杆: %dx", t.Leverage))
	}
	if t.StopLossPrice != 0 {
		pct := math.Abs((t.StopLossPrice - t.Price) / t.Price * 100)
		parts = append(parts, fmt.Sprintf("🛑 止损: %s (%.2f%%)", num(t.StopLossPrice), pct))
	}
	if t.TakeProfitPrice != 0 {
		pct := math.Abs((t.TakeProfitPrice - t.Price) / t.Price * 100)
		parts = append(parts, fmt.Sprintf("🎯 止盈: %s (%.2f%%)", num(t.TakeProfitPrice), pct))
	}
	if t.TraderName != "" {
		parts = append(parts, fmt.Sprintf("👤 交易员: %s", t.TraderName))
	}
	if t.Skipped && t.SkipReason != "" {
		parts = append(parts, fmt.Sprintf("⚠️ 跳过原因: %s", t.SkipReason))
	}

	notification := baseNotification(EventTrade)
	notification["data"] = data
	notification["description"] = strings.Join(parts, "\n")

	return c.Send(ctx, notification)
}

// Position describes a position snapshot. Zero-valued optional fields are
// left out of the notification.
type Position struct {
	Symbol           string
	Amount           float64
	EntryPrice       float64
	CurrentPrice     float64
	PNL              float64
	PNLPercentage    float64
	LiquidationPrice float64
	Margin           float64
	Leverage         int
	Extra            map[string]any
}

// SendPosition sends a position update notification.
func (c *Client) SendPosition(ctx context.Context, p Position) error {
	data := map[string]any{
		"symbol":    p.Symbol,
		"amount":    p.Amount,
		"timestamp": nowMillis(),
	}
	if p.EntryPrice != 0 {
		data["entry_price"] = p.EntryPrice
	}
	if p.CurrentPrice != 0 {
		data["current_price"] = p.CurrentPrice
	}
	if p.PNL != 0 {
		data["pnl"] = p.PNL
	}
	if p.PNLPercentage != 0 {
		data["pnl_percentage"] = p.PNLPercentage
	}
	if p.LiquidationPrice != 0 {
		data["liquidation_price"] = p.LiquidationPrice
	}
	if p.Margin != 0 {
		data["margin"] = p.Margin
	}
	if p.Leverage != 0 {
		data["leverage"] = p.Leverage
	}
	for k, v := range p.Extra {
		data[k] = v
	}

	positionType := "无持仓"
	emoji := "⚪"
	switch {
	case p.Amount > 0:
		positionType, emoji = "多头", "🟢"
	case p.Amount < 0:
		positionType, emoji = "空头", "🔴"
	}

	parts := []string{
		fmt.Sprintf("%s **持仓更新**: %s (%s)", emoji, p.Symbol, positionType),
	}
	if p.Amount != 0 {
		parts = append(parts, fmt.Sprintf("📊 数量: %s", num(math.Abs(p.Amount))))
	}
	if p.EntryPrice != 0 {
		parts = append(parts, fmt.Sprintf("💲 入场价: %s", num(p.EntryPrice)))
	}
	if p.CurrentPrice != 0 {
		parts = append(parts, fmt.Sprintf("📈 当前价: %s", num(p.CurrentPrice)))
	}
	if p.PNL != 0 || p.PNLPercentage != 0 {
		pnlEmoji := "⚪"
		switch {
		case p.PNL > 0:
			pnlEmoji = "🟢"
		case p.PNL < 0:
			pnlEmoji = "🔴"
		}
		parts = append(parts, fmt.Sprintf("%s 盈亏: $%.2f (%.2f%%)", pnlEmoji, p.PNL, p.PNLPercentage))
	}
	if p.LiquidationPrice != 0 {
		parts = append(parts, fmt.Sprintf("☢️ 强平价: %s", num(p.LiquidationPrice)))
	}
	if p.Leverage != 0 {
		parts = append(parts, fmt.Sprintf("📊 杠杆: %dx", p.Leverage))
	}
	if p.Margin != 0 {
		parts = append(parts, fmt.Sprintf("💰 保证金: $%.2f", p.Margin))
	}

	notification := baseNotification(EventPosition)
	notification["data"] = data
	notification["description"] = strings.Join(parts, "\n")

	return c.Send(ctx, notification)
}

// SendError sends an error notification. An empty errorType defaults to
// "system_error"; the fields land at the top level of the notification.
func (c *Client) SendError(ctx context.Context, message, errorType string, details map[string]any) error {
	if errorType == "" {
		errorType = "system_error"
	}

	notification := baseNotification(EventError)
	notification["error_type"] = errorType
	notification["message"] = message

	parts := []string{
		"❌ **错误报告**",
		fmt.Sprintf("📋 类型: %s", errorType),
		fmt.Sprintf("📝 消息: %s", message),
	}
	if len(details) > 0 {
		notification["details"] = details
		if encoded, err := json.MarshalIndent(details, "", "  "); err == nil {
			parts = append(parts, fmt.Sprintf("🔍 详情: ```\n%s\n```", encoded))
		}
	}
	notification["description"] = strings.Join(parts, "\n")

	return c.Send(ctx, notification)
}

// SendStatus sends a status notification. An empty statusType defaults to
// "info"; the fields land at the top level of the notification.
func (c *Client) SendStatus(ctx context.Context, message, statusType string, extra map[string]any) error {
	if statusType == "" {
		statusType = StatusInfo
	}

	notification := baseNotification(EventStatus)
	notification["status_type"] = statusType
	notification["message"] = message
	for k, v := range extra {
		notification[k] = v
	}

	emoji, display := "ℹ️", "信息"
	switch statusType {
	case StatusWarning:
		emoji, display = "⚠️", "警告"
	case StatusSuccess:
		emoji, display = "✅", "成功"
	case StatusError:
		emoji, display = "❌", "错误"
	}

	parts := []string{
		fmt.Sprintf("%s **%s通知**", emoji, display),
		fmt.Sprintf("📝 %s", message),
	}
	if len(extra) > 0 {
		lines := make([]string, 0, len(extra))
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, extra[k]))
		}
		parts = append(parts, fmt.Sprintf("📊 附加信息:\n```\n%s\n```", strings.Join(lines, "\n")))
	}
	notification["description"] = strings.Join(parts, "\n")

	return c.Send(ctx, notification)
}

// SendCustom sends a notification with a caller-chosen event type.
func (c *Client) SendCustom(ctx context.Context, eventType, description string, data map[string]any) error {
	notification := baseNotification(eventType)
	if description != "" {
		notification["description"] = description
	}
	if data != nil {
		notification["data"] = data
	}
	return c.Send(ctx, notification)
}

func baseNotification(eventType string) map[string]any {
	return map[string]any{
		"event_type": eventType,
		"timestamp":  nowMillis(),
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// num renders a float without an exponent and without trailing zeros.
func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
