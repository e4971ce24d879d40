package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		TelegramUpdatesDuplicate,
		TelegramRateLimited,
		TelegramSendTotal,
	)
}

var (
	TelegramUpdatesDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_updates_duplicate_total",
			Help: "Redelivered updates dropped by the intake.",
		},
	)

	TelegramRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "telegram_rate_limit_triggered_total",
			Help: "Updates dropped by the inbound rate limiter.",
		},
	)

	TelegramSendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_send_total",
			Help: "Outbound Telegram API calls by method and result.",
		},
		[]string{"method", "result"},
	)
)
