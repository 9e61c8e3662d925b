// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン方法
const (
	MethodPassword = "password"
	MethodOTP      = "otp"
	MethodGoogle   = "google"
)

// 結果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuthMetrics は認証フローのメトリクス収集インターフェース。
// サービス層、ハンドラー、ワーカーから利用する。
type AuthMetrics interface {
	RecordSignIn(method, outcome string)
	RecordOTPIssued(purpose string, delivered bool)
	RecordOTPVerified(valid bool)
	RecordTokenExchange(statusCode int, duration time.Duration)
	RecordReconcile(outcome string)
	RecordRateLimited()
	RecordOTPPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIns          *prometheus.CounterVec
	otpIssued        *prometheus.CounterVec
	otpVerified      *prometheus.CounterVec
	exchangeStatus   *prometheus.CounterVec
	exchangeLatency  prometheus.Histogram
	reconcileOutcome *prometheus.CounterVec
	rateLimited      prometheus.Counter
	otpPurged        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_auth_sign_ins_total",
			Help: "サインイン試行の合計数（方法・結果別）",
		}, []string{"method", "outcome"}),
		otpIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_auth_otp_issued_total",
			Help: "発行したOTPの合計数（用途・配信結果別）",
		}, []string{"purpose", "delivered"}),
		otpVerified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_auth_otp_verified_total",
			Help: "OTP検証の合計数（結果別）",
		}, []string{"valid"}),
		exchangeStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_auth_token_exchange_total",
			Help: "トークンエンドポイント呼び出しの合計数（ステータスコード別）",
		}, []string{"status_code"}),
		exchangeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "profile_auth_token_exchange_latency_seconds",
			Help:    "トークンエンドポイント呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		reconcileOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profile_auth_reconcile_total",
			Help: "ユーザー照合の合計数（結果別）",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profile_auth_rate_limited_total",
			Help: "レート制限で拒否したリクエストの合計数",
		}),
		otpPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "profile_auth_otp_purged_total",
			Help: "期限切れで削除したOTPの合計数",
		}),
	}

	reg.MustRegister(
		c.signIns,
		c.otpIssued,
		c.otpVerified,
		c.exchangeStatus,
		c.exchangeLatency,
		c.reconcileOutcome,
		c.rateLimited,
		c.otpPurged,
	)

	return c
}

// RecordSignIn はサインイン試行を記録する。
func (c *Collector) RecordSignIn(method, outcome string) {
	c.signIns.WithLabelValues(method, outcome).Inc()
}

// RecordOTPIssued はOTP発行を記録する。
func (c *Collector) RecordOTPIssued(purpose string, delivered bool) {
	c.otpIssued.WithLabelValues(purpose, strconv.FormatBool(delivered)).Inc()
}

// RecordOTPVerified はOTP検証結果を記録する。
func (c *Collector) RecordOTPVerified(valid bool) {
	c.otpVerified.WithLabelValues(strconv.FormatBool(valid)).Inc()
}

// RecordTokenExchange はトークンエンドポイントの応答を記録する。
// 使えるトークン応答を得られなかった場合（通信失敗やIDトークンの検証失敗）、statusCodeは0。
func (c *Collector) RecordTokenExchange(statusCode int, duration time.Duration) {
	c.exchangeStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	c.exchangeLatency.Observe(duration.Seconds())
}

// RecordReconcile はユーザー照合の結果を記録する。
func (c *Collector) RecordReconcile(outcome string) {
	c.reconcileOutcome.WithLabelValues(outcome).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordOTPPurged は期限切れOTPの削除件数を記録する。
func (c *Collector) RecordOTPPurged(count int64) {
	c.otpPurged.Add(float64(count))
}

// Nop は何も記録しないAuthMetrics。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordSignIn(string, string) {}
func (Nop) RecordOTPIssued(string, bool) {}
func (Nop) RecordOTPVerified(bool) {}
func (Nop) RecordTokenExchange(int, time.Duration) {}
func (Nop) RecordReconcile(string) {}
func (Nop) RecordRateLimited() {}
func (Nop) RecordOTPPurged(int64) {}

var (
	_ AuthMetrics = (*Collector)(nil)
	_ AuthMetrics = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
