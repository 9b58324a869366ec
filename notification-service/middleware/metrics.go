package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var notificationsSentTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications sent",
	},
	[]string{"type"},
)

func init() {
	prometheus.MustRegister(notificationsSentTotal)
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordNotificationSent(notificationType string) {
	notificationsSentTotal.WithLabelValues(notificationType).Inc()
}
