package module

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CrisisTextLine/modular"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GoCodeAlone/hookrelay/config"
	"github.com/GoCodeAlone/hookrelay/observability/tracing"
)

// DeliveryResult reports the outcome of one outbound delivery.
type DeliveryResult struct {
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	Success    bool   `json:"success"`
}

// Dispatcher fans messages out to their targets over HTTP. Deliveries are
// issued concurrently, each bounded by the target's own timeout; a 2xx
// response counts as success and nothing is retried. Results keep the
// catalogue order of the selected targets.
type Dispatcher struct {
	name      string
	store     *config.Store
	formatter *TargetFormatter
	client    *http.Client
	logger    modular.Logger
	metrics   *MetricsCollector
	tracer    *tracing.DeliveryTracer
}

// NewDispatcher creates a Dispatcher reading its target catalogue from the
// given store.
func NewDispatcher(name string, store *config.Store, formatter *TargetFormatter) *Dispatcher {
	return &Dispatcher{
		name:      name,
		store:     store,
		formatter: formatter,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tracer: tracing.NewDeliveryTracer(nil),
	}
}

// Name returns the module name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Init registers the dispatcher as a service.
func (d *Dispatcher) Init(app modular.Application) error {
	d.logger = app.Logger()
	return app.RegisterService("message.dispatcher", d)
}

// SetClient sets a custom HTTP client (useful for testing).
func (d *Dispatcher) SetClient(client *http.Client) {
	d.client = client
}

// SetMetrics attaches a metrics collector for delivery instrumentation.
func (d *Dispatcher) SetMetrics(m *MetricsCollector) {
	d.metrics = m
}

// Dispatch delivers a message. A non-empty targetIDs list addresses exactly
// the listed enabled targets and bypasses the eligibility filters; an empty
// list broadcasts to every enabled target that passes ShouldForward.
func (d *Dispatcher) Dispatch(ctx context.Context, message map[string]any, targetIDs []string) []DeliveryResult {
	doc := d.store.Snapshot()

	mode := "broadcast"
	var selected []config.Target
	if len(targetIDs) > 0 {
		mode = "explicit"
		d.logger.Info("dispatching to explicit targets", "target_ids", targetIDs)
		for _, t := range doc.Targets {
			if t.IsEnabled() && slices.Contains(targetIDs, t.ID) {
				selected = append(selected, t)
			}
		}
	} else {
		d.logger.Info("dispatching to all eligible targets")
		for _, t := range doc.Targets {
			if t.IsEnabled() && ShouldForward(message, &t) {
				selected = append(selected, t)
			}
		}
	}

	ctx, span := d.tracer.StartDispatch(ctx, mode, len(selected))
	defer span.End()

	results := make([]DeliveryResult, len(selected))
	var wg sync.WaitGroup
	for i := range selected {
		wg.Add(1)
		go func(i int, target config.Target) {
			defer wg.Done()
			results[i] = DeliveryResult{
				TargetID:   target.ID,
				TargetName: target.Name,
				Success:    d.Deliver(ctx, message, &target),
			}
		}(i, selected[i])
	}
	wg.Wait()

	return results
}

// Deliver formats and posts the message to a single target. Success is a
// 2xx response inside the target's timeout.
func (d *Dispatcher) Deliver(ctx context.Context, message map[string]any, target *config.Target) bool {
	if target.URL == "" {
		d.logger.Warn("target has no url configured", "target", target.Name)
		return false
	}

	body, err := json.Marshal(d.formatter.Format(message, target))
	if err != nil {
		d.logger.Error("failed to encode outbound payload", "target", target.Name, "err", err)
		return false
	}

	deliveryID := uuid.NewString()
	start := time.Now()

	ctx, span := d.tracer.StartDelivery(ctx, target.ID, target.Name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, target.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("failed to create outbound request", "target", target.Name, "delivery_id", deliveryID, "err", err)
		d.tracer.RecordError(span, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req) //nolint:gosec // G704: SSRF via taint analysis
	if err != nil {
		d.logger.Error("delivery failed", "target", target.Name, "delivery_id", deliveryID, "err", err)
		d.observe(target, "error", time.Since(start))
		d.tracer.RecordError(span, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain body to allow connection reuse.
		_, _ = io.Copy(io.Discard, resp.Body)
		d.logger.Info("message delivered", "target", target.Name, "delivery_id", deliveryID, "status", resp.StatusCode)
		d.observe(target, "success", time.Since(start))
		d.tracer.SetSuccess(span)
		return true
	}

	excerpt := readBodyExcerpt(resp.Body, 512)
	d.logger.Error("delivery rejected", "target", target.Name, "delivery_id", deliveryID, "status", resp.StatusCode, "body", excerpt)
	d.observe(target, "failure", time.Since(start))
	d.tracer.RecordError(span, fmt.Errorf("delivery rejected with status %d", resp.StatusCode))
	return false
}

func (d *Dispatcher) observe(target *config.Target, status string, elapsed time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordDelivery(target.Name, status, elapsed)
	}
}

// ShouldForward reports whether a broadcast message is eligible for the
// target: the event type must pass the target's event_types filter, and
// trade/position_update events carrying a symbol must also pass the
// symbols filter. Targets without filters accept everything.
func ShouldForward(message map[string]any, target *config.Target) bool {
	if !target.IsEnabled() {
		return false
	}

	eventType, _ := message["event_type"].(string)
	if target.EventTypes != nil && !slices.Contains(target.EventTypes, eventType) {
		return false
	}

	if target.Symbols != nil && (eventType == "trade" || eventType == "position_update") {
		if symbol, ok := lookupPath(message, "data.symbol"); ok {
			if s, ok := symbol.(string); ok && s != "" && !slices.Contains(target.Symbols, s) {
				return false
			}
		}
	}

	return true
}

func readBodyExcerpt(body io.Reader, limit int64) string {
	data, _ := io.ReadAll(io.LimitReader(body, limit))
	return strings.ToValidUTF8(string(data), "")
}
