package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/infrastructure/resilience"
)

const (
	DefaultSubject = "ebook.uploaded"
	workerGroup    = "extractors"
	// drainWait exceeds the client's default drain timeout.
	drainWait = nats.DefaultDrainTimeout + 5*time.Second
)

type Queue struct {
	conn    *nats.Conn
	subject string
	runner  *resilience.Runner
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Runner         *resilience.Runner
}

func New(url, subject string, options Options) (*Queue, error) {
	if strings.TrimSpace(subject) == "" {
		subject = DefaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("ebook-library"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{conn: conn, subject: subject, runner: options.Runner}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishEbookUploaded(ctx context.Context, ebookID string) error {
	payload, err := encodeEvent(domain.UploadEvent{EbookID: ebookID, UploadedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	publish := func(context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.runner != nil {
		err = q.runner.Run(ctx, "nats.publish", publish, classifyNATSError)
	} else {
		err = publish(ctx)
	}
	return wrapTemporaryIfNeeded(err)
}

// SubscribeEbookUploaded blocks until ctx is done, handing each event to
// handler. Workers share a queue group so each upload is processed once.
// Events already delivered when ctx ends are still handled while the
// subscription drains; handlers see a context that stays live until then.
func (q *Queue) SubscribeEbookUploaded(ctx context.Context, handler func(context.Context, domain.UploadEvent) error) error {
	procCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	d := newDeliveries(procCtx, handler)

	sub, err := q.conn.QueueSubscribe(q.subject, workerGroup, d.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	closed := sub.StatusChanged(nats.SubscriptionClosed)
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	select {
	case <-closed:
	case <-time.After(drainWait):
		slog.Warn("nats_drain_timeout", "subject", q.subject, "wait", drainWait)
		stop()
	}
	d.wait()

	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// deliveries runs the subscription callback under a processing context that
// is independent of the subscriber's lifetime.
type deliveries struct {
	ctx      context.Context
	handler  func(context.Context, domain.UploadEvent) error
	inFlight sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func newDeliveries(ctx context.Context, handler func(context.Context, domain.UploadEvent) error) *deliveries {
	return &deliveries{ctx: ctx, handler: handler}
}

func (d *deliveries) handle(msg *nats.Msg) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		slog.Warn("upload_event_dropped", "subject", msg.Subject)
		return
	}
	d.inFlight.Add(1)
	d.mu.Unlock()
	defer d.inFlight.Done()

	event, err := decodeEvent(msg.Data)
	if err != nil {
		slog.Warn("upload_event_decode_failed", "subject", msg.Subject, "error", err)
		return
	}
	if err := d.handler(d.ctx, event); err != nil {
		slog.Error("upload_event_handler_failed", "ebook_id", event.EbookID, "error", err)
	}
}

// wait refuses further messages and returns once every started handler has
// returned.
func (d *deliveries) wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.inFlight.Wait()
}

func encodeEvent(event domain.UploadEvent) ([]byte, error) {
	if strings.TrimSpace(event.EbookID) == "" {
		return nil, fmt.Errorf("encode upload event: empty ebook id")
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode upload event: %w", err)
	}
	return raw, nil
}

// decodeEvent also accepts a bare id so older publishers keep working.
func decodeEvent(data []byte) (domain.UploadEvent, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return domain.UploadEvent{}, fmt.Errorf("decode upload event: empty payload")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return domain.UploadEvent{EbookID: trimmed}, nil
	}

	var event domain.UploadEvent
	if err := json.Unmarshal([]byte(trimmed), &event); err != nil {
		return domain.UploadEvent{}, fmt.Errorf("decode upload event: %w", err)
	}
	if strings.TrimSpace(event.EbookID) == "" {
		return domain.UploadEvent{}, fmt.Errorf("decode upload event: missing ebookId")
	}
	return event, nil
}
