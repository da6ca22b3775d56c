// Package kafka wraps the franz-go client for the agent's audit stream.
//
// # Delivery
//
// Audit events are produced asynchronously: [Producer.Produce] buffers the
// record and returns at once, and the callback fires when the broker
// acknowledges or the record fails after retries. Tool calls never wait on
// Kafka. [Producer.Close] flushes what is still buffered, bounded by
// closeFlushTimeout.
//
// # Security
//
// TLS (optional CA bundle and client certificate) and SASL (PLAIN,
// SCRAM-SHA-256, SCRAM-SHA-512) are configured from [config.KafkaConfig].
//
// # Thread Safety
//
// Producer is safe for concurrent use; franz-go serializes requests
// internally.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/RaikaSurendra/servicenow-mcp-agent/internal/config"
)

const closeFlushTimeout = 10 * time.Second

// Producer wraps a franz-go client for producing messages to Kafka.
//
// The producer uses acks=all so an acknowledged audit event is replicated.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a Kafka producer from the audit Kafka configuration.
// A nil partitioner keeps the franz-go default. Brokers are contacted lazily
// on the first produce.
func NewProducer(cfg config.KafkaConfig, partitioner kgo.Partitioner, logger *slog.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		kgo.RetryTimeout(30 * time.Second),
		kgo.ProducerLinger(50 * time.Millisecond),
	}
	if partitioner != nil {
		opts = append(opts, kgo.RecordPartitioner(partitioner))
	}

	secOpts, err := securityOpts(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, secOpts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka producer client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "kafka-producer"),
	}, nil
}

// Produce buffers one record for topic and returns immediately. done, when
// non-nil, is called once with the delivery result.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string, done func(error)) {
	rec := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	p.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		if err != nil {
			err = fmt.Errorf("producing to %s: %w", topic, err)
		} else {
			p.logger.Debug("message produced",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
			)
		}
		if done != nil {
			done(err)
		}
	})
}

// Close flushes buffered records and closes the Kafka connection.
func (p *Producer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close incomplete", "error", err)
	}
	p.client.Close()
}

// securityOpts translates TLS and SASL settings into client options.
func securityOpts(cfg config.KafkaConfig) ([]kgo.Opt, error) {
	var opts []kgo.Opt

	if cfg.TLS.Enabled {
		tlsCfg, err := tlsConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}

	sasl := cfg.SASL
	switch strings.ToUpper(sasl.Mechanism) {
	case "":
	case "PLAIN":
		opts = append(opts, kgo.SASL(plain.Auth{User: sasl.Username, Pass: sasl.Password}.AsMechanism()))
	case "SCRAM-SHA-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: sasl.Username, Pass: sasl.Password}.AsSha256Mechanism()))
	case "SCRAM-SHA-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: sasl.Username, Pass: sasl.Password}.AsSha512Mechanism()))
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", sasl.Mechanism)
	}

	return opts, nil
}

func tlsConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading kafka CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading kafka client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
