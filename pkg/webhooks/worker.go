package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ringline/relay/pkg/config"
	"github.com/ringline/relay/pkg/observability"
)

// Worker polls the delivery store for due deliveries and pushes them to
// subscriber endpoints. Multiple workers can run against the same
// store; the claim step guarantees each row is processed once.
type Worker struct {
	store   Store
	cfg     config.WorkerConfig
	client  *http.Client
	metrics *observability.Metrics
	logger  *observability.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewWorker creates a delivery worker
func NewWorker(store Store, cfg config.WorkerConfig, metrics *observability.Metrics, logger *observability.Logger) *Worker {
	return &Worker{
		store: store,
		cfg:   cfg,
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		metrics: metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the worker clock, for tests
func (w *Worker) SetClock(now func() time.Time) {
	w.now = now
}

// Run polls until the context is cancelled. One batch is processed
// immediately on start so restarts drain backlog without waiting a
// full poll interval.
func (w *Worker) Run(ctx context.Context) {
	w.logger.WithFields(map[string]interface{}{
		"poll_interval": w.cfg.PollInterval.String(),
		"batch_size":    w.cfg.BatchSize,
		"concurrency":   w.cfg.Concurrency,
	}).Info("Delivery worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.runBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			w.runBatch(ctx)
		}
	}
}

// runBatch claims and processes one batch, recovering panics so a bad
// delivery never kills the polling loop
func (w *Worker) runBatch(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", fmt.Sprintf("%v", r)).Error("Recovered panic in delivery batch")
		}
	}()

	if _, err := w.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
		w.logger.WithError(err).Error("Failed to process delivery batch")
	}
}

// ProcessBatch claims up to the configured batch of due deliveries and
// attempts each one. Returns the number of deliveries processed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	now := w.now()
	claimed, err := w.store.ClaimDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.Concurrency)
	for _, delivery := range claimed {
		delivery := delivery
		group.Go(func() error {
			if err := w.processDelivery(groupCtx, delivery); err != nil {
				w.logger.WithError(err).WithField("delivery_id", delivery.ID).Error("Failed to process delivery")
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return len(claimed), err
	}
	return len(claimed), nil
}

// processDelivery attempts a single claimed delivery and persists its
// outcome. The claim step already incremented Attempts, so this attempt
// is delivery.Attempts.
func (w *Worker) processDelivery(ctx context.Context, delivery *Delivery) error {
	sub, err := w.store.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to load subscription %s: %w", delivery.SubscriptionID, err)
	}
	event, err := w.store.GetEvent(ctx, delivery.EventID)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", delivery.EventID, err)
	}

	now := w.now()

	// An attempt that would carry a signature already outside the
	// subscriber's verification window is unsendable; receivers would
	// reject it anyway.
	if now.Sub(delivery.EventTimestamp) > w.cfg.ReplayWindow {
		return w.recordReplayExpired(ctx, delivery)
	}

	statusCode, attemptErr, duration := w.attempt(ctx, sub, event, delivery)

	delivery.LastStatusCode = statusCode
	delivery.Duration = duration
	delivery.UpdatedAt = w.now()

	if attemptErr == nil {
		return w.recordSuccess(ctx, delivery, sub)
	}
	return w.recordFailure(ctx, delivery, attemptErr)
}

// attempt builds, signs, and POSTs the delivery payload. A nil error
// means the endpoint acknowledged with a 2xx.
func (w *Worker) attempt(ctx context.Context, sub *Subscription, event *Event, delivery *Delivery) (statusCode int, err error, duration time.Duration) {
	timestamp := delivery.EventTimestamp.Unix()
	body, err := BuildPayload(event, timestamp)
	if err != nil {
		return 0, err, 0
	}
	signature := SignPayload(sub.Secret, timestamp, event.ID, body)

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err), 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEventType, string(event.Type))
	req.Header.Set(HeaderEventID, event.ID)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", timestamp))

	start := w.now()
	resp, err := w.client.Do(req)
	duration = w.now().Sub(start)
	if err != nil {
		return 0, err, duration
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, nil, duration
	}
	return resp.StatusCode, fmt.Errorf("endpoint returned status %d", resp.StatusCode), duration
}

// recordSuccess marks the delivery succeeded and refreshes the
// subscription's last delivery time
func (w *Worker) recordSuccess(ctx context.Context, delivery *Delivery, sub *Subscription) error {
	now := w.now()
	delivery.Status = DeliveryStatusSucceeded
	delivery.LastError = ""
	delivery.NextAttemptAt = nil
	delivery.DeliveredAt = &now
	delivery.UpdatedAt = now

	if err := w.store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record delivery success: %w", err)
	}
	if err := w.store.TouchSubscriptionDelivered(ctx, sub.ID, now); err != nil {
		w.logger.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to update subscription delivery time")
	}

	if w.metrics != nil {
		w.metrics.DeliveriesTotal.WithLabelValues(string(DeliveryStatusSucceeded)).Inc()
		w.metrics.DeliveryAttemptsTotal.WithLabelValues("success").Inc()
		w.metrics.DeliveryDuration.WithLabelValues("success").Observe(delivery.Duration.Seconds())
	}
	w.logger.WithFields(map[string]interface{}{
		"delivery_id":     delivery.ID,
		"subscription_id": sub.ID,
		"attempts":        delivery.Attempts,
	}).Info("Delivery succeeded")
	return nil
}

// recordFailure schedules a retry or dead-letters the delivery once the
// attempt ceiling is reached
func (w *Worker) recordFailure(ctx context.Context, delivery *Delivery, attemptErr error) error {
	delivery.LastError = truncateError(attemptErr.Error())

	if w.metrics != nil {
		w.metrics.DeliveryAttemptsTotal.WithLabelValues("failure").Inc()
		w.metrics.DeliveryDuration.WithLabelValues("failure").Observe(delivery.Duration.Seconds())
	}

	if delivery.Attempts >= w.cfg.MaxAttempts {
		delivery.Status = DeliveryStatusDead
		delivery.NextAttemptAt = nil
		if err := w.store.UpdateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("failed to dead-letter delivery: %w", err)
		}
		if w.metrics != nil {
			w.metrics.DeliveriesTotal.WithLabelValues(string(DeliveryStatusDead)).Inc()
			w.metrics.DeliveriesDeadLettered.Inc()
		}
		w.logger.WithFields(map[string]interface{}{
			"delivery_id": delivery.ID,
			"attempts":    delivery.Attempts,
			"last_error":  delivery.LastError,
		}).Warn("Delivery dead-lettered")
		return nil
	}

	next := w.now().Add(w.backoffFor(delivery.Attempts))
	delivery.Status = DeliveryStatusPending
	delivery.NextAttemptAt = &next
	if err := w.store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	w.logger.WithFields(map[string]interface{}{
		"delivery_id":  delivery.ID,
		"attempts":     delivery.Attempts,
		"next_attempt": next.Format(time.RFC3339),
		"last_error":   delivery.LastError,
	}).Info("Delivery retry scheduled")
	return nil
}

// recordReplayExpired terminates a delivery whose event aged out of the
// replay window before it could be sent
func (w *Worker) recordReplayExpired(ctx context.Context, delivery *Delivery) error {
	delivery.Status = DeliveryStatusFailed
	delivery.LastError = ErrReplayExpired
	delivery.NextAttemptAt = nil
	delivery.UpdatedAt = w.now()

	if err := w.store.UpdateDelivery(ctx, delivery); err != nil {
		return fmt.Errorf("failed to record replay expiry: %w", err)
	}
	if w.metrics != nil {
		w.metrics.DeliveriesTotal.WithLabelValues(string(DeliveryStatusFailed)).Inc()
	}
	w.logger.WithFields(map[string]interface{}{
		"delivery_id":     delivery.ID,
		"event_timestamp": delivery.EventTimestamp.Format(time.RFC3339),
	}).Warn("Delivery abandoned, event outside replay window")
	return nil
}

// backoffFor returns the delay before the next attempt after the given
// attempt number. Schedules shorter than the attempt ceiling reuse
// their final entry.
func (w *Worker) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(w.cfg.Backoff) {
		idx = len(w.cfg.Backoff) - 1
	}
	return w.cfg.Backoff[idx]
}
