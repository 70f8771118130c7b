package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/topmanuais/api/internal/platform/jobs"
)

func sampleConfirmation() OrderConfirmation {
	return OrderConfirmation{
		OrderID:       "01HORDER",
		OrderNumber:   "TM-2025-000001",
		CustomerName:  `Ana <script>alert("x")</script>`,
		CustomerEmail: "ana@x.com",
		LineItems: []LineItem{{
			Title:       "Manual de Exemplo",
			Quantity:    1,
			UnitPrice:   decimal.RequireFromString("139.90"),
			DownloadRef: "manuals/init-1/manual.pdf",
			DownloadURL: "https://loja.example/downloads/01HENT",
		}},
		Total:        decimal.RequireFromString("139.90"),
		Currency:     "BRL",
		ExpiresAt:    time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC),
		MaxDownloads: 5,
	}
}

func newRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(RendererOptions{})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return r
}

func TestRendererProducesSanitisedEmail(t *testing.T) {
	email, err := newRenderer(t).Render(sampleConfirmation())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(email.Subject, "TM-2025-000001") {
		t.Fatalf("expected order number in subject, got %q", email.Subject)
	}
	if strings.Contains(email.HTML, "<script>") || strings.Contains(email.Text, "<script>") {
		t.Fatalf("expected markup to be stripped:\n%s", email.HTML)
	}
	if !strings.Contains(email.HTML, `href="https://loja.example/downloads/01HENT"`) {
		t.Fatalf("expected download link in html:\n%s", email.HTML)
	}
	if !strings.Contains(email.Text, "https://loja.example/downloads/01HENT") {
		t.Fatalf("expected download link in text:\n%s", email.Text)
	}
	if !strings.Contains(email.Text, "31/03/2025") {
		t.Fatalf("expected expiry date in text:\n%s", email.Text)
	}
}

func TestFormatMoneyUsesLocale(t *testing.T) {
	r := newRenderer(t)
	if got := r.formatMoney(decimal.RequireFromString("139.90"), "BRL"); got != "R$ 139,90" {
		t.Fatalf("unexpected formatting %q", got)
	}
}

func TestRendererRequiresRecipient(t *testing.T) {
	msg := sampleConfirmation()
	msg.CustomerEmail = " "
	if _, err := newRenderer(t).Render(msg); !errors.Is(err, ErrRecipientRequired) {
		t.Fatalf("expected ErrRecipientRequired, got %v", err)
	}
}

type stubPublisher struct {
	jobs []jobs.EmailJob
	err  error
}

func (s *stubPublisher) PublishEmail(_ context.Context, job jobs.EmailJob) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.jobs = append(s.jobs, job)
	return "msg-1", nil
}

func TestPubSubDispatcherPublishesJob(t *testing.T) {
	pub := &stubPublisher{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d, err := NewPubSubDispatcher(PubSubDispatcherDeps{
		Renderer:  newRenderer(t),
		Publisher: pub,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	if err := d.SendOrderConfirmation(context.Background(), sampleConfirmation()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(pub.jobs))
	}
	job := pub.jobs[0]
	if job.To != "ana@x.com" || job.OrderNumber != "TM-2025-000001" || job.Template != "order_confirmation" {
		t.Fatalf("unexpected job %+v", job)
	}
	if job.IdempotencyKey != "order_confirmation:01HORDER" {
		t.Fatalf("unexpected idempotency key %s", job.IdempotencyKey)
	}
	if !job.QueuedAt.Equal(now) {
		t.Fatalf("unexpected queued at %s", job.QueuedAt)
	}
}

func TestPubSubDispatcherPropagatesPublishError(t *testing.T) {
	d, err := NewPubSubDispatcher(PubSubDispatcherDeps{
		Renderer:  newRenderer(t),
		Publisher: &stubPublisher{err: errors.New("topic not found")},
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.SendOrderConfirmation(context.Background(), sampleConfirmation()); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestLogDispatcherLogsRenderedEmail(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d, err := NewLogDispatcher(newRenderer(t), zap.New(core))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	if err := d.SendOrderConfirmation(context.Background(), sampleConfirmation()); err != nil {
		t.Fatalf("send: %v", err)
	}
	entries := logs.FilterMessage("order confirmation").All()
	if len(entries) != 1 || entries[0].ContextMap()["to"] != "ana@x.com" {
		t.Fatalf("expected one confirmation log entry, got %+v", entries)
	}
}
