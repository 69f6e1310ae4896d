package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedPollSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_poll_seconds",
		Help:    "Длительность цикла опроса ленты",
		Buckets: prometheus.DefBuckets,
	})
	FeedPollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_poll_errors_total",
		Help: "Ошибки циклов опроса ленты",
	})
	FeedItemsNew = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_items_new_total",
		Help: "Количество новых элементов ленты",
	})

	DispatchSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_sent_total",
		Help: "Отправленные уведомления о новых видео",
	})
	DispatchSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_send_errors_total",
		Help: "Ошибки отправки уведомлений",
	})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "commands_total",
		Help: "Обработанные команды из личных сообщений",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "command_errors_total",
		Help: "Ошибки выполнения команд",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedPollSeconds,
		FeedPollErrors,
		FeedItemsNew,
		DispatchSentTotal,
		DispatchSendErrors,
		CommandsTotal,
		CommandErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncCommand увеличивает счётчик обработанных команд.
func IncCommand(command string) {
	if command == "" {
		command = "unknown"
	}
	CommandsTotal.WithLabelValues(command).Inc()
}
