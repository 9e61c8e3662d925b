package otp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// MessageWriter はkafka.Writerのうち通知で使う部分。
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DeliveryEvent はメール配信サービスへ送るイベント。
type DeliveryEvent struct {
	Type    string `json:"type"`
	Email   string `json:"email"`
	OTP     string `json:"otp"`
	Purpose string `json:"purpose"`
	From    string `json:"from,omitempty"`
	SentAt  int64  `json:"sentAt"`
}

const deliveryEventType = "otp.requested"

// KafkaConfig はKafkaNotifierの接続設定。
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	Username     string
	Password     string
	From         string
	WriteTimeout time.Duration
}

// KafkaNotifier は配信イベントをKafkaへ発行する。
// 実際のメール送信は購読側のメールサービスが行う。
type KafkaNotifier struct {
	writer MessageWriter
	from   string
}

// NewKafkaNotifier はKafkaConfigからWriterを構築してKafkaNotifierを生成する。
// UsernameがあればSASL/PLAIN over TLSで接続する。
func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: timeout,
	}
	if cfg.Username != "" {
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.Username, Password: cfg.Password},
			TLS:  &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	return NewKafkaNotifierWithWriter(w, cfg.From)
}

// NewKafkaNotifierWithWriter は任意のMessageWriterでKafkaNotifierを生成する。
func NewKafkaNotifierWithWriter(w MessageWriter, from string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, from: from}
}

// Notify は配信イベントを発行する。メッセージキーはメールアドレスで、
// 同一メールのイベントは同じパーティションに順序通り届く。
func (n *KafkaNotifier) Notify(ctx context.Context, email, code string, purpose model.OTPPurpose) error {
	value, err := json.Marshal(DeliveryEvent{
		Type:    deliveryEventType,
		Email:   email,
		OTP:     code,
		Purpose: string(purpose),
		From:    n.from,
		SentAt:  time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode delivery event: %w", err)
	}

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(email),
		Value: value,
		Time:  time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to publish delivery event: %w", err)
	}
	return nil
}

// Close はWriterを閉じる。
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier はブローカー未設定の環境で使う。コードはdebugレベルでのみ出力する。
type LogNotifier struct{}

// Notify は配信要求をログに記録する。
func (LogNotifier) Notify(ctx context.Context, email, code string, purpose model.OTPPurpose) error {
	slog.InfoContext(ctx, "otp delivery skipped: no broker configured",
		slog.String("email", email),
		slog.String("purpose", string(purpose)),
	)
	slog.DebugContext(ctx, "otp code", slog.String("email", email), slog.String("otp", code))
	return nil
}
