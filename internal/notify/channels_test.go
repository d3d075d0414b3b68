package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/sovereign/internal/realtime"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

type stubHub struct {
	ok     bool
	events []realtime.EventType
}

func (s *stubHub) Publish(t realtime.EventType, data map[string]any) bool {
	s.events = append(s.events, t)
	return s.ok
}

func TestConsoleChannel_AlwaysLogs(t *testing.T) {
	got, err := NewConsoleChannel(discard()).Send(context.Background(), &Message{To: "a@b.c", Priority: PriorityCritical})
	require.NoError(t, err)
	assert.Equal(t, &Delivery{Sent: false, Logged: true, Provider: ProviderConsole}, got)
}

func TestWebhookChannel_SignsPayload(t *testing.T) {
	var body []byte
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "s3cret")
	got, err := ch.Send(context.Background(), &Message{To: "ops@example.com", Subject: "alert", Priority: PriorityHigh})
	require.NoError(t, err)

	assert.True(t, got.Sent)
	assert.Equal(t, ProviderWebhook, got.Provider)
	assert.True(t, strings.HasPrefix(got.MessageID, "ntf_"))
	assert.Equal(t, "notification", headers.Get(HeaderEvent))
	assert.NotEmpty(t, headers.Get(HeaderTimestamp))
	assert.True(t, Verify(body, "s3cret", headers.Get(HeaderSignature)))
	assert.False(t, Verify(body, "other", headers.Get(HeaderSignature)))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "ops@example.com", decoded["to"])
	assert.Equal(t, got.MessageID, decoded["id"])
}

func TestWebhookChannel_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebhookChannel(srv.URL, "").Send(context.Background(), &Message{To: "x"})
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestVerify_RejectsGarbage(t *testing.T) {
	assert.False(t, Verify([]byte("x"), "k", "not-hex"))
}

func TestKafkaChannel_WritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	got, err := NewKafkaChannel(w).Send(context.Background(), &Message{To: "ops@example.com", Subject: "s", Priority: PriorityHigh})
	require.NoError(t, err)

	assert.True(t, got.Sent)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "ops@example.com", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"subject":"s"`)
	assert.Equal(t, got.MessageID, string(w.msgs[0].Headers[0].Value))
}

func TestKafkaChannel_WriteError(t *testing.T) {
	_, err := NewKafkaChannel(&fakeWriter{err: errors.New("no brokers")}).Send(context.Background(), &Message{To: "x"})
	assert.ErrorContains(t, err, "no brokers")
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "sovereign.notifications")
	assert.Equal(t, "sovereign.notifications", w.Topic)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
}

func TestRealtimeChannel(t *testing.T) {
	hub := &stubHub{ok: true}
	got, err := NewRealtimeChannel(hub).Send(context.Background(), &Message{Subject: "s"})
	require.NoError(t, err)
	assert.True(t, got.Sent)
	assert.Equal(t, []realtime.EventType{realtime.EventNotification}, hub.events)

	_, err = NewRealtimeChannel(&stubHub{ok: false}).Send(context.Background(), &Message{})
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestBuildMIME_PlainText(t *testing.T) {
	raw, err := buildMIME("noreply@example.com", "<id@example.com>", &Message{
		To: "ops@example.com", Subject: "Plain", Body: "hello", Priority: PriorityHigh,
	}, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "From: noreply@example.com\r\n")
	assert.Contains(t, s, "To: ops@example.com\r\n")
	assert.Contains(t, s, "Message-ID: <id@example.com>\r\n")
	assert.Contains(t, s, "X-Priority: 1\r\n")
	assert.Contains(t, s, "Content-Type: text/plain")
	assert.True(t, strings.HasSuffix(s, "hello"))
}

func TestBuildMIME_Alternative(t *testing.T) {
	raw, err := buildMIME("noreply@example.com", "<id@x>", &Message{
		To: "ops@example.com", Subject: "Größe", Body: "text part", HTML: "<b>html part</b>",
	}, time.Now())
	require.NoError(t, err)

	s := string(raw)
	assert.Contains(t, s, "multipart/alternative; boundary=")
	assert.Contains(t, s, "text part")
	assert.Contains(t, s, "<b>html part</b>")
	assert.Contains(t, s, "Subject: =?utf-8?q?")
}

func TestBuildMIME_RejectsHeaderInjection(t *testing.T) {
	_, err := buildMIME("a@b.c", "<id>", &Message{To: "x@y.z\r\nBcc: evil@z", Subject: "s"}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestSMTPChannel_DialFailure(t *testing.T) {
	ch := NewSMTPChannel(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "a@b.c"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ch.Send(ctx, &Message{To: "ops@example.com", Subject: "s"})
	assert.ErrorContains(t, err, "smtp dial")

	_, err = ch.Send(ctx, &Message{Subject: "s"})
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestNewChannel(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ProviderConfig
		hub      Broadcaster
		provider string
		warns    bool
	}{
		{"default", ProviderConfig{}, nil, ProviderConsole, false},
		{"console", ProviderConfig{Provider: "Console"}, nil, ProviderConsole, false},
		{"smtp", ProviderConfig{Provider: "smtp", SMTP: SMTPConfig{Host: "mail", From: "a@b.c"}}, nil, ProviderSMTP, false},
		{"smtp missing host", ProviderConfig{Provider: "smtp"}, nil, ProviderConsole, true},
		{"webhook", ProviderConfig{Provider: "webhook", WebhookURL: "http://hook"}, nil, ProviderWebhook, false},
		{"webhook missing url", ProviderConfig{Provider: "webhook"}, nil, ProviderConsole, true},
		{"kafka", ProviderConfig{Provider: "kafka", KafkaBrokers: []string{"k:9092"}, KafkaTopic: "t"}, nil, ProviderKafka, false},
		{"kafka missing topic", ProviderConfig{Provider: "kafka", KafkaBrokers: []string{"k:9092"}}, nil, ProviderConsole, true},
		{"realtime", ProviderConfig{Provider: "realtime"}, &stubHub{}, ProviderRealtime, false},
		{"realtime no hub", ProviderConfig{Provider: "realtime"}, nil, ProviderConsole, true},
		{"unknown", ProviderConfig{Provider: "pigeon"}, nil, ProviderConsole, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, warning := NewChannel(tt.cfg, tt.hub, discard())
			assert.Equal(t, tt.provider, ch.Name())
			assert.Equal(t, tt.warns, warning != "")
		})
	}
}
