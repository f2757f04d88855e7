package module

import (
	"reflect"
	"testing"

	"github.com/GoCodeAlone/hookrelay/config"
	"github.com/GoCodeAlone/hookrelay/mock"
)

func testFormatter(t *testing.T) *TargetFormatter {
	t.Helper()
	f := NewTargetFormatter("message.formatter")
	if err := f.Init(CreateIsolatedApp(t)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return f
}

func tradeMessage() map[string]any {
	return map[string]any{
		"event_type":  "trade",
		"description": "交易信号: BTC/USDT 买入",
		"data": map[string]any{
			"symbol": "BTC/USDT",
			"price":  float64(50000),
			"amount": float64(0.1),
		},
	}
}

func TestTargetFormatter_DefaultPassthrough(t *testing.T) {
	f := testFormatter(t)
	message := tradeMessage()
	target := &config.Target{Name: "plain", URL: "http://example.test/hook"}

	got := f.Format(message, target)
	if !reflect.DeepEqual(got, message) {
		t.Errorf("expected message passed through, got %v", got)
	}
}

func TestTargetFormatter_WeChatByType(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{Name: "wc", Type: "wechat", URL: "http://example.test"}

	got := f.Format(tradeMessage(), target).(map[string]any)

	if got["msgtype"] != "text" {
		t.Errorf("expected msgtype text, got %v", got)
	}
	text := got["text"].(map[string]any)
	if text["content"] != "交易信号: BTC/USDT 买入" {
		t.Errorf("expected description as content, got %v", text)
	}
}

func TestTargetFormatter_WeChatByURL(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{Name: "wc", URL: "https://qyapi.WeChat.example/send"}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["msgtype"] != "text" {
		t.Errorf("expected wechat shape from url match, got %v", got)
	}
}

func TestTargetFormatter_WeChatPersonal(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{Name: "me", Type: "wechat_personal", WXID: "wx_42"}

	got := f.Format(tradeMessage(), target).(map[string]any)

	if got["type"] != "sendText" {
		t.Errorf("expected sendText, got %v", got)
	}
	data := got["data"].(map[string]any)
	if data["wxid"] != "wx_42" || data["msg"] != "交易信号: BTC/USDT 买入" {
		t.Errorf("unexpected personal wechat data: %v", data)
	}
}

func TestTargetFormatter_WeChatPersonalMissingWXID(t *testing.T) {
	log := &mock.Logger{}
	f := NewTargetFormatter("f")
	if err := f.Init(CreateAppWithLogger(t, log)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	target := &config.Target{Name: "me", Type: "wechat_personal"}

	got := f.Format(tradeMessage(), target).(map[string]any)

	if len(got) != 0 {
		t.Errorf("expected empty body without wxid, got %v", got)
	}
	if !log.Has("warn", "target missing wxid, sending empty body") {
		t.Errorf("expected wxid warning, got %v", log.Messages())
	}
}

func TestTargetFormatter_Feishu(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{Name: "fs", Type: "feishu"}

	got := f.Format(tradeMessage(), target).(map[string]any)

	if got["msg_type"] != "text" {
		t.Errorf("expected feishu msg_type, got %v", got)
	}
	content := got["content"].(map[string]any)
	if content["text"] != "交易信号: BTC/USDT 买入" {
		t.Errorf("unexpected feishu content: %v", content)
	}
}

func TestTargetFormatter_Dingtalk(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{Name: "dt", URL: "https://oapi.dingtalk.example/robot"}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["msgtype"] != "text" {
		t.Errorf("expected dingtalk shape, got %v", got)
	}
}

func TestTargetFormatter_TemplateFormat(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "tpl",
		FormatType: "template",
		Format: map[string]any{
			"card": map[string]any{"title": "$symbol", "body": "价格 $price 数量 $amount"},
		},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)
	card := got["card"].(map[string]any)

	if card["title"] != "BTC/USDT" {
		t.Errorf("expected substituted title, got %v", card)
	}
	if card["body"] != "价格 50000 数量 0.1" {
		t.Errorf("expected substituted body, got %v", card)
	}
}

func TestTargetFormatter_TemplateLongestNameWins(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "tpl",
		FormatType: "template",
		Format:     map[string]any{"text": "$price_change then $price"},
	}
	message := map[string]any{
		"data": map[string]any{"price": float64(1), "price_change": float64(2)},
	}

	got := f.Format(message, target).(map[string]any)
	if got["text"] != "2 then 1" {
		t.Errorf("expected longest placeholder substituted first, got %v", got["text"])
	}
}

func TestTargetFormatter_TemplateDataFieldsWinOverTopLevel(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "tpl",
		FormatType: "template",
		Format:     map[string]any{"text": "$symbol"},
	}
	message := map[string]any{
		"symbol": "top",
		"data":   map[string]any{"symbol": "nested"},
	}

	got := f.Format(message, target).(map[string]any)
	if got["text"] != "nested" {
		t.Errorf("expected data field to win, got %v", got["text"])
	}
}

func TestTargetFormatter_TemplateWinsOverPlatform(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "wc",
		Type:       "wechat",
		FormatType: "template",
		Format:     map[string]any{"custom": "$symbol"},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["custom"] != "BTC/USDT" {
		t.Errorf("expected declared template to win over platform shape, got %v", got)
	}
}

func TestTargetFormatter_FormatWithoutTypeFallsThrough(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:   "wc",
		Type:   "wechat",
		Format: map[string]any{"custom": "$symbol"},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["msgtype"] != "text" {
		t.Errorf("expected platform shape when format_type is unset, got %v", got)
	}
}

func TestTargetFormatter_TextFormatByEventType(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "txt",
		FormatType: "text",
		Format: map[string]any{
			"trade":   "交易: {symbol} @ {price}",
			"default": "事件: {event_type}",
		},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["text"] != "交易: BTC/USDT @ 50000" {
		t.Errorf("expected event-type template rendered, got %v", got)
	}
}

func TestTargetFormatter_TextFormatDefaultEntry(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "txt",
		FormatType: "text",
		Format:     map[string]any{"default": "事件: {event_type}"},
	}
	message := map[string]any{"event_type": "status", "description": "ok"}

	got := f.Format(message, target).(map[string]any)
	if got["text"] != "事件: status" {
		t.Errorf("expected default entry used, got %v", got)
	}
}

func TestTargetFormatter_TextFormatMissingFieldFallsBack(t *testing.T) {
	log := &mock.Logger{}
	f := NewTargetFormatter("f")
	if err := f.Init(CreateAppWithLogger(t, log)); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	target := &config.Target{
		Name:       "txt",
		FormatType: "text",
		Format:     map[string]any{"trade": "缺: {nope}"},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)

	if got["text"] != "交易信号: BTC/USDT 买入" {
		t.Errorf("expected description fallback, got %v", got)
	}
	if !log.Has("warn", "text format references missing fields") {
		t.Errorf("expected warning, got %v", log.Messages())
	}
}

func TestTargetFormatter_TextFormatImplicitDescription(t *testing.T) {
	f := testFormatter(t)
	target := &config.Target{
		Name:       "txt",
		FormatType: "text",
		Format:     map[string]any{},
	}

	got := f.Format(tradeMessage(), target).(map[string]any)
	if got["text"] != "交易信号: BTC/USDT 买入" {
		t.Errorf("expected {description} default template, got %v", got)
	}
}

func TestMessageDescription_FallsBackToJSON(t *testing.T) {
	message := map[string]any{"event_type": "x"}
	if got := messageDescription(message); got != `{"event_type":"x"}` {
		t.Errorf("expected compact JSON fallback, got %q", got)
	}

	message["description"] = nil
	if got := messageDescription(message); got != "null" {
		t.Errorf("expected null for nil description, got %q", got)
	}
}
