package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of admitted websocket connections.",
		},
	)
	wsRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_rejected_total",
			Help: "Total number of websocket handshakes refused for missing or invalid credentials.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of inbound websocket events by outcome.",
		},
		[]string{"event", "outcome"},
	)
	wsEventDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_ws_event_duration_seconds",
			Help:    "Inbound websocket event handling latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)
	activeRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_rooms",
			Help: "Number of rooms with at least one connection.",
		},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of chat:send requests by result.",
		},
		[]string{"result"},
	)
	receiptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Total number of messages marked read.",
		},
	)
	reconciledParticipantsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_unread_reconciled_total",
			Help: "Total number of participant unread counters corrected by the reconciler.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsRejectedTotal,
		wsEventsTotal,
		wsEventDuration,
		activeRooms,
		messagesTotal,
		receiptsTotal,
		reconciledParticipantsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() { wsActiveConnections.Inc() }

func DecWSActive() { wsActiveConnections.Dec() }

func IncWSRejected() { wsRejectedTotal.Inc() }

// ObserveWSEvent records one handled inbound event.
func ObserveWSEvent(event, outcome string, took time.Duration) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
	wsEventDuration.WithLabelValues(event).Observe(took.Seconds())
}

func SetActiveRooms(n int) { activeRooms.Set(float64(n)) }

// IncMessage counts a send by result: created, duplicate or failed.
func IncMessage(result string) { messagesTotal.WithLabelValues(result).Inc() }

func AddReceipts(n int) { receiptsTotal.Add(float64(n)) }

func AddReconciled(n int64) { reconciledParticipantsTotal.Add(float64(n)) }

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
