package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/openpulse/openpulse/pkg/monitor"
	"github.com/openpulse/openpulse/pkg/stores"
	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Channel is one outbound notification target. Delivery is a single
// JSON POST to the channel URL; there is no retry.
type Channel struct {
	Name           string `yaml:"name" json:"name" validate:"required"`
	URL            string `yaml:"url" json:"url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

const (
	notifyQueueSize    = 128
	defaultSendTimeout = 10 * time.Second
)

// notifier fans alerts out to the configured channels from a single
// worker goroutine. Enqueueing never blocks the caller; when the
// queue is full the alert is dropped with a warning.
type notifier struct {
	store   *stores.SQLiteStore
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	client  *http.Client
	limiter *rate.Limiter

	mu       sync.RWMutex
	channels []Channel

	queue chan *stores.TelemetryAlert
	done  chan struct{}
	wg    sync.WaitGroup
}

func newNotifier(store *stores.SQLiteStore, logger *telemetry.Logger, metrics *telemetry.Metrics, channels []Channel, perMinute int) *notifier {
	if perMinute <= 0 {
		perMinute = 30
	}
	return &notifier{
		store:    store,
		logger:   logger.NewComponentLogger("notifier"),
		metrics:  metrics,
		client:   &http.Client{},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		channels: channels,
		queue:    make(chan *stores.TelemetryAlert, notifyQueueSize),
		done:     make(chan struct{}),
	}
}

func (n *notifier) start() {
	n.wg.Add(1)
	go n.run()
}

func (n *notifier) stop() {
	close(n.done)
	n.wg.Wait()
}

// setChannels replaces the channel set. Used by config hot reload.
func (n *notifier) setChannels(channels []Channel) {
	n.mu.Lock()
	n.channels = channels
	n.mu.Unlock()
}

// enqueue hands an alert to the dispatch worker without blocking.
func (n *notifier) enqueue(alert *stores.TelemetryAlert) {
	select {
	case n.queue <- alert:
	default:
		n.metrics.RecordNotification("queue", "dropped")
		n.logger.WithAlertID(alert.ID).Warn("notification queue full, alert dropped")
	}
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case alert := <-n.queue:
			n.dispatch(alert)
		}
	}
}

// dispatch sends one alert to every channel. A channel failure is
// logged and isolated; it does not affect the other channels. The
// alert is marked notified after the first successful delivery.
func (n *notifier) dispatch(alert *stores.TelemetryAlert) {
	n.mu.RLock()
	channels := n.channels
	n.mu.RUnlock()

	if len(channels) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.WithAlertID(alert.ID).WithError(err).Warn("notification throttle wait aborted")
		return
	}

	delivered := false
	for _, ch := range channels {
		if err := n.send(ctx, ch, alert); err != nil {
			n.metrics.RecordNotification(ch.Name, "error")
			n.metrics.RecordError(string(monitor.ErrorClassNotification))
			n.logger.WithAlertID(alert.ID).WithError(err).Warnf("notification to channel %q failed", ch.Name)
			continue
		}
		n.metrics.RecordNotification(ch.Name, "ok")
		delivered = true
	}

	if delivered {
		if err := n.store.MarkAlertNotified(ctx, alert.ID); err != nil {
			n.logger.WithAlertID(alert.ID).WithError(err).Error("failed to mark alert notified")
		}
	}
}

func (n *notifier) send(ctx context.Context, ch Channel, alert *stores.TelemetryAlert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return monitor.NewNotificationError("failed to encode alert payload", err)
	}

	timeout := defaultSendTimeout
	if ch.TimeoutSeconds > 0 {
		timeout = time.Duration(ch.TimeoutSeconds) * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, ch.URL, bytes.NewReader(body))
	if err != nil {
		return monitor.NewNotificationError("failed to build notification request", err).WithResource(ch.Name)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return monitor.NewNotificationError("notification request failed", err).
			WithResource(ch.Name).
			WithCode(monitor.ErrCodeChannelFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return monitor.NewNotificationError(fmt.Sprintf("channel returned status %d", resp.StatusCode), nil).
			WithResource(ch.Name).
			WithCode(monitor.ErrCodeChannelFailed)
	}
	return nil
}
