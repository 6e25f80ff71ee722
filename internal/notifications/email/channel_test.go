package email

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pollkeeper/internal/notifications/core"
	"pollkeeper/internal/types"
)

// mockEmailProvider implements external.EmailProvider for testing. errs are
// returned in order, one per call; once exhausted Send succeeds.
type mockEmailProvider struct {
	mu     sync.Mutex
	inputs []types.SendInput
	errs   []error
	msgID  string
}

func (m *mockEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return m.msgID, nil
}

// mockTemplateService implements TemplateService for testing.
type mockTemplateService struct {
	rendered  *RenderedEmail
	sender    types.SenderIdentity
	renderErr error
	gotProps  json.RawMessage
}

func (m *mockTemplateService) Render(tmpl types.EmailTemplate, locale string, props json.RawMessage) (*RenderedEmail, types.SenderIdentity, error) {
	m.gotProps = props
	if m.renderErr != nil {
		return nil, types.SenderIdentity{}, m.renderErr
	}
	rendered := m.rendered
	if rendered == nil {
		rendered = &RenderedEmail{Subject: "Test Subject", BodyHTML: "<p>Test</p>", BodyText: "Test"}
	}
	return rendered, m.sender, nil
}

type deliveryRecord struct {
	template types.EmailTemplate
	result   core.MetricResult
}

type recordingEmailMetrics struct {
	core.NoopEmailMetrics
	deliveries []deliveryRecord
	lags       []time.Duration
}

func (m *recordingEmailMetrics) RecordDelivery(_ context.Context, _ string, tmpl types.EmailTemplate, result core.MetricResult) {
	m.deliveries = append(m.deliveries, deliveryRecord{tmpl, result})
}

func (m *recordingEmailMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.lags = append(m.lags, lag)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var channelNow = time.Date(2026, 2, 6, 3, 0, 10, 0, time.UTC)

func newTestChannel(provider *mockEmailProvider, templates TemplateService, metrics core.EmailMetrics) (*EmailChannel, *[]time.Duration) {
	ch := NewEmailChannel(EmailChannelConfig{
		Provider:     provider,
		ProviderName: "ses",
		Templates:    templates,
		Metrics:      metrics,
	})
	ch.clock = fixedClock{t: channelNow}
	var slept []time.Duration
	ch.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return ch, &slept
}

func testJob() types.EmailJob {
	return types.EmailJob{
		MessageID:  "msg-1",
		Template:   types.TemplateDeadlineReminder,
		To:         " Ana@Example.com ",
		Locale:     "es",
		Props:      json.RawMessage(`{"title":"Team dinner"}`),
		EnqueuedAt: channelNow.Add(-10 * time.Second),
		RequestID:  "req-7",
	}
}

func TestDecodeJob(t *testing.T) {
	job, err := DecodeJob(`{"message_id":"m1","template":"DeadlineClosedEmail","to":"a@b.c","props":{"title":"x"}}`)
	if err != nil {
		t.Fatalf("DecodeJob() error: %v", err)
	}
	if job.Template != types.TemplateDeadlineClosed || job.To != "a@b.c" {
		t.Errorf("unexpected job %+v", job)
	}

	if _, err := DecodeJob("not json"); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestDeliver_Success(t *testing.T) {
	provider := &mockEmailProvider{msgID: "ses-123"}
	templates := &mockTemplateService{sender: types.SenderIdentity{Name: "Polls", Address: "noreply@polls.example.com"}}
	metrics := &recordingEmailMetrics{}
	ch, _ := newTestChannel(provider, templates, metrics)

	result, err := ch.Deliver(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if result.Status != DeliveryStatusSent || result.ProviderMessageID != "ses-123" {
		t.Errorf("unexpected result %+v", result)
	}

	if len(provider.inputs) != 1 {
		t.Fatalf("expected 1 send, got %d", len(provider.inputs))
	}
	in := provider.inputs[0]
	if in.To != "ana@example.com" {
		t.Errorf("expected normalized recipient, got %q", in.To)
	}
	if in.From.Address != "noreply@polls.example.com" {
		t.Errorf("unexpected send input %+v", in)
	}
	if in.MessageID != "msg-1" || in.RequestID != "req-7" || in.Template != types.TemplateDeadlineReminder {
		t.Errorf("job correlation not carried to the provider: %+v", in)
	}
	if string(templates.gotProps) != `{"title":"Team dinner"}` {
		t.Errorf("unexpected props passed to renderer: %s", templates.gotProps)
	}

	if len(metrics.lags) != 1 || metrics.lags[0] != 10*time.Second {
		t.Errorf("expected 10s queue lag, got %v", metrics.lags)
	}
	if len(metrics.deliveries) != 1 || metrics.deliveries[0].result != core.MetricSuccess {
		t.Errorf("unexpected delivery metrics %v", metrics.deliveries)
	}
}

func TestDeliver_CompressedProps(t *testing.T) {
	provider := &mockEmailProvider{msgID: "id"}
	templates := &mockTemplateService{}
	ch, _ := newTestChannel(provider, templates, nil)

	big := make([]string, 0, 9000)
	for i := 0; i < 9000; i++ {
		big = append(big, "Participant")
	}
	raw, _ := json.Marshal(types.DeadlineReminderProps{Title: "Huge", ParticipantNames: big})
	job := testJob()
	core.PackProps(&job, raw)
	if job.Encoding != types.EncodingZstd {
		t.Fatalf("test setup: expected compressed job")
	}

	if _, err := ch.Deliver(context.Background(), job); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if string(templates.gotProps) != string(raw) {
		t.Error("renderer should receive the decompressed props")
	}
}

func TestDeliver_PermanentFailuresAreSkipped(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*types.EmailJob)
		renderErr error
		reason    string
	}{
		{
			name:   "invalid recipient",
			mutate: func(j *types.EmailJob) { j.To = "not-an-address" },
			reason: "invalid_recipient",
		},
		{
			name:   "undecodable props",
			mutate: func(j *types.EmailJob) { j.Encoding = "brotli" },
			reason: "invalid_payload",
		},
		{
			name:      "unknown template",
			mutate:    func(j *types.EmailJob) {},
			renderErr: types.NewAppError(types.ErrCodeValidationUnknownTemplate, "nope", ErrUnknownTemplate),
			reason:    "render_failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockEmailProvider{}
			metrics := &recordingEmailMetrics{}
			ch, _ := newTestChannel(provider, &mockTemplateService{renderErr: tt.renderErr}, metrics)

			job := testJob()
			tt.mutate(&job)
			result, err := ch.Deliver(context.Background(), job)
			if err != nil {
				t.Fatalf("expected no error for permanent failure, got %v", err)
			}
			if result.Status != DeliveryStatusSkipped || result.FailureReason != tt.reason {
				t.Errorf("unexpected result %+v", result)
			}
			if len(provider.inputs) != 0 {
				t.Error("provider must not be called")
			}
			if len(metrics.deliveries) != 1 || metrics.deliveries[0].result != core.MetricSkipped {
				t.Errorf("expected a skipped metric, got %v", metrics.deliveries)
			}
		})
	}
}

func TestDeliver_BlockedRecipientBounces(t *testing.T) {
	provider := &mockEmailProvider{errs: []error{
		types.NewAppError(types.ErrCodeEmailBlocked, "suppressed", nil),
	}}
	ch, slept := newTestChannel(provider, &mockTemplateService{}, nil)

	result, err := ch.Deliver(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if result.Status != DeliveryStatusBounced || result.FailureReason != "address_blocked" {
		t.Errorf("unexpected result %+v", result)
	}
	if len(provider.inputs) != 1 || len(*slept) != 0 {
		t.Error("blocked recipients must not be retried")
	}
}

func TestDeliver_RetriesTransientErrors(t *testing.T) {
	provider := &mockEmailProvider{
		msgID: "ok",
		errs: []error{
			types.NewAppError(types.ErrCodeUpstreamRateLimited, "throttled", nil),
			errors.New("connection reset"),
		},
	}
	ch, slept := newTestChannel(provider, &mockTemplateService{}, nil)

	result, err := ch.Deliver(context.Background(), testJob())
	if err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if result.Status != DeliveryStatusSent {
		t.Errorf("unexpected result %+v", result)
	}
	if len(provider.inputs) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(provider.inputs))
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("unexpected backoff %v", *slept)
	}
}

func TestDeliver_ExhaustedRetriesReturnError(t *testing.T) {
	unavailable := types.NewAppError(types.ErrCodeUpstreamUnavailable, "503", nil)
	provider := &mockEmailProvider{errs: []error{unavailable, unavailable, unavailable}}
	metrics := &recordingEmailMetrics{}
	ch, _ := newTestChannel(provider, &mockTemplateService{}, metrics)

	result, err := ch.Deliver(context.Background(), testJob())
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	if !types.IsCode(err, types.ErrCodeUpstreamUnavailable) {
		t.Errorf("expected upstream unavailable, got %v", err)
	}
	if len(provider.inputs) != core.EmailRetryPolicy.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", core.EmailRetryPolicy.MaxAttempts, len(provider.inputs))
	}
	if len(metrics.deliveries) != 1 || metrics.deliveries[0].result != core.MetricFailed {
		t.Errorf("expected a failed metric, got %v", metrics.deliveries)
	}
}

func TestDeliver_CancelledContextStopsRetrying(t *testing.T) {
	provider := &mockEmailProvider{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	ch, _ := newTestChannel(provider, &mockTemplateService{}, nil)
	ch.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	_, err := ch.Deliver(context.Background(), testJob())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(provider.inputs) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(provider.inputs))
	}
}

func TestShouldRetry(t *testing.T) {
	ch := NewEmailChannel(EmailChannelConfig{})
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrRecipientBlocked, false},
		{context.DeadlineExceeded, false},
		{types.NewAppError(types.ErrCodeUpstreamRateLimited, "", nil), true},
		{types.NewAppError(types.ErrCodeUpstreamUnavailable, "", nil), true},
		{errors.New("unknown"), true},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = strings.ReplaceAll(tt.err.Error(), " ", "_")
		}
		t.Run(name, func(t *testing.T) {
			if got := ch.ShouldRetry(tt.err); got != tt.want {
				t.Errorf("ShouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
