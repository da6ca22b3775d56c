package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hamba/avro/v2"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/kafka"
	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/observability"
)

type producedRecord struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
}

// fakeProducer records messages in memory and completes them with err.
type fakeProducer struct {
	mu      sync.Mutex
	records []producedRecord
	err     error
	closed  bool
}

func (f *fakeProducer) Produce(_ context.Context, topic string, key, value []byte, headers map[string]string, done func(error)) {
	f.mu.Lock()
	f.records = append(f.records, producedRecord{topic: topic, key: key, value: value, headers: headers})
	f.mu.Unlock()
	if done != nil {
		done(f.err)
	}
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func sampleEvent() Event {
	return Event{
		Tool:       "check_ticket_status",
		Reference:  "INC0010001",
		Outcome:    OutcomeOK,
		DurationMS: 42,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher_JSON(t *testing.T) {
	prod := &fakeProducer{}
	pub, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit-json"}, prod, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	before := counterValue(t, observability.Metrics.AuditPublishedTotal.WithLabelValues("audit-json"))

	pub.Publish(context.Background(), sampleEvent())

	if len(prod.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(prod.records))
	}
	rec := prod.records[0]
	if rec.topic != "audit-json" {
		t.Errorf("topic = %q", rec.topic)
	}
	if string(rec.key) != "INC0010001" {
		t.Errorf("key = %q, want reference", rec.key)
	}
	if rec.headers["content-type"] != "application/json" || rec.headers["tool"] != "check_ticket_status" {
		t.Errorf("headers = %v", rec.headers)
	}

	var got Event
	if err := json.Unmarshal(rec.value, &got); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	want := sampleEvent()
	if got.Tool != want.Tool || got.Reference != want.Reference || got.Outcome != want.Outcome ||
		got.DurationMS != want.DurationMS || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("decoded event = %+v", got)
	}

	after := counterValue(t, observability.Metrics.AuditPublishedTotal.WithLabelValues("audit-json"))
	if after != before+1 {
		t.Errorf("published counter = %v, want %v", after, before+1)
	}
}

func TestKafkaPublisher_RoundRobinKey(t *testing.T) {
	prod := &fakeProducer{}
	pub, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit-rr", Partitioner: "round_robin"}, prod, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	pub.Publish(context.Background(), sampleEvent())
	if prod.records[0].key != nil {
		t.Errorf("round-robin key should be nil, got %q", prod.records[0].key)
	}
}

func TestKafkaPublisher_ProduceErrorIsCounted(t *testing.T) {
	prod := &fakeProducer{err: errors.New("broker unavailable")}
	pub, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit-fail"}, prod, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	counter := observability.Metrics.AuditPublishErrorsTotal.WithLabelValues("audit-fail", "produce")
	before := counterValue(t, counter)

	pub.Publish(context.Background(), sampleEvent())

	if after := counterValue(t, counter); after != before+1 {
		t.Errorf("error counter = %v, want %v", after, before+1)
	}
}

func TestKafkaPublisher_CanceledContextStillPublishes(t *testing.T) {
	prod := &fakeProducer{}
	pub, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit-cancel"}, prod, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub.Publish(ctx, sampleEvent())
	if len(prod.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(prod.records))
	}
}

func TestKafkaPublisher_Close(t *testing.T) {
	prod := &fakeProducer{}
	pub, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit"}, prod, discardLogger())
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	pub.Close()
	if !prod.closed {
		t.Error("Close should close the producer")
	}
}

func TestNewKafkaPublisher_UnknownEncoding(t *testing.T) {
	_, err := NewKafkaPublisher(context.Background(), config.AuditConfig{Topic: "audit", Encoding: "xml"}, &fakeProducer{}, discardLogger())
	if err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestNew_DisabledIsNop(t *testing.T) {
	pub, err := New(context.Background(), config.AuditConfig{}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Errorf("expected Nop, got %T", pub)
	}
	pub.Publish(context.Background(), sampleEvent())
	pub.Close()
}

func TestAvroEncoder_RoundTrip(t *testing.T) {
	enc, err := NewAvroEncoder(context.Background(), "audit", nil)
	if err != nil {
		t.Fatalf("NewAvroEncoder failed: %v", err)
	}
	ev := sampleEvent()
	ev.Outcome = OutcomeError
	ev.Error = "status 500"

	data, err := enc.Encode(context.Background(), ev)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var got avroEvent
	if err := avro.Unmarshal(enc.schema, data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Tool != ev.Tool || got.Reference != ev.Reference || got.DurationMS != 42 {
		t.Errorf("decoded = %+v", got)
	}
	if got.Error == nil || *got.Error != "status 500" {
		t.Errorf("error field = %v", got.Error)
	}
	if !got.Timestamp.Equal(ev.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, ev.Timestamp)
	}
}

func TestAvroEncoder_ConfluentWireFormat(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/subjects/audit-value/versions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"id":7}`))
	}))
	defer srv.Close()

	enc, err := NewAvroEncoder(context.Background(), "audit", kafka.NewHTTPRegistryClient(srv.URL))
	if err != nil {
		t.Fatalf("NewAvroEncoder failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("schema should be registered at construction, got %d registry calls", calls)
	}

	for i := 0; i < 2; i++ {
		data, err := enc.Encode(context.Background(), sampleEvent())
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if data[0] != 0 {
			t.Errorf("magic byte = %d", data[0])
		}
		if id := binary.BigEndian.Uint32(data[1:5]); id != 7 {
			t.Errorf("schema id = %d, want 7", id)
		}
	}
	if calls != 1 {
		t.Errorf("registry should be called once, got %d", calls)
	}
}

func TestAvroEncoder_RegistryUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := config.AuditConfig{
		Topic:    "audit",
		Encoding: EncodingAvro,
		Kafka:    config.KafkaConfig{SchemaRegistryURL: srv.URL},
	}
	_, err := NewKafkaPublisher(context.Background(), cfg, &fakeProducer{}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "registering audit schema") {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestEventFields(t *testing.T) {
	f := sampleEvent().Fields()
	if f["tool"] != "check_ticket_status" || f["reference"] != "INC0010001" || f["duration_ms"] != "42" {
		t.Errorf("Fields = %v", f)
	}
}
