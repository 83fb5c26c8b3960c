package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/db"
	"github.com/aegishook/aegishook/internal/delivery"
	"github.com/aegishook/aegishook/internal/dispatch"
	"github.com/aegishook/aegishook/internal/health"
	"github.com/aegishook/aegishook/internal/lease"
	"github.com/aegishook/aegishook/internal/logging"
	"github.com/aegishook/aegishook/internal/metrics"
	"github.com/aegishook/aegishook/internal/store"
	"github.com/aegishook/aegishook/internal/tracing"

	"go.opentelemetry.io/otel/attribute"
)

const serviceName = "aegishook-worker"

// infraRetryDelay is the requeue wait after an infrastructure error
// (store or lease unreachable). The claim protocol absorbs the
// redelivery, so a short constant is enough.
const infraRetryDelay = 5 * time.Second

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(serviceName)

	shutdown, err := tracing.InitTracing(ctx, serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN(), serviceName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, rdb))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	var dlqProducer *nsq.Producer
	if cfg.Worker.PublishDLQ {
		dlqProducer, err = nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlqProducer.Stop()
	}

	st := store.New(pool)
	dispatcher := dispatch.New(dispatch.Options{
		Jobs:        st,
		Endpoints:   st,
		Transport:   dispatch.NewHTTPTransport(cfg.Worker.RequestTimeout),
		Lease:       lease.NewLimiter(rdb, cfg.Redis.LeaseTTL),
		Publisher:   dlqProducer,
		MaxAttempts: cfg.Worker.MaxAttempts,
		ClaimTTL:    cfg.Worker.ClaimTTL,
		Policy: delivery.Policy{
			Base:      cfg.Worker.BackoffBase,
			Cap:       cfg.Worker.BackoffCap,
			JitterPct: cfg.Worker.JitterPercent,
		},
		DLQTopic:   cfg.NSQ.DLQTopic,
		PublishDLQ: cfg.Worker.PublishDLQ,
		Logger:     logger,
	})

	startBacklogMonitor(cfg, logger)

	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Worker.Concurrency
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddConcurrentHandlers(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // the dispatch result decides finish vs requeue
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()
		handleMessage(ctx, dispatcher, logger, m)
		return nil
	}), cfg.Worker.Concurrency)

	// Connecting directly to NSQD forces channel creation, instead of the
	// channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// handleMessage runs one queue message through the dispatcher and maps
// the result onto the NSQ ack protocol.
func handleMessage(ctx context.Context, d *dispatch.Dispatcher, logger *logging.Logger, m *nsq.Message) {
	var t delivery.Task
	if err := json.Unmarshal(m.Body, &t); err != nil {
		logger.Plain().WithError(err).Error("bad task payload")
		m.Finish() // terminal: a bad payload never gets better
		return
	}

	ctx = tracing.ExtractTraceFromNSQ(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.dispatch",
		attribute.String("job_id", t.JobID),
		attribute.String("event_id", t.EventID),
		attribute.String("tenant_id", t.TenantID),
		attribute.String("endpoint_id", t.EndpointID),
		attribute.Int("attempt", t.Attempt),
	)
	defer span.End()

	res, err := d.Handle(ctx, t)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		logger.WithContext(ctx).WithJob(t.JobID).WithError(err).Error("delivery attempt errored, requeueing")
		m.Requeue(infraRetryDelay)
		return
	}

	switch res.Disposition {
	case dispatch.DispositionRetry:
		tracing.AddSpanEvent(ctx, "delivery.requeue",
			attribute.Int("attempt", res.Attempt),
			attribute.String("delay", res.Delay.String()),
		)
		// REQ requeues the broker's copy of the message unchanged; the
		// store's attempt counter is authoritative, the task's stale
		// Attempt field is ignored on redelivery.
		m.Requeue(res.Delay)
	case dispatch.DispositionBusy:
		tracing.AddSpanEvent(ctx, "delivery.endpoint_busy",
			attribute.String("endpoint_id", t.EndpointID))
		m.Requeue(res.Delay)
	default:
		m.Finish()
	}
}

// nsqStats is the slice of the nsqd stats document the backlog monitor
// reads.
type nsqStats struct {
	Topics []struct {
		Name     string `json:"topic_name"`
		Channels []struct {
			Name  string `json:"channel_name"`
			Depth int64  `json:"depth"`
		} `json:"channels"`
	} `json:"topics"`
}

// recordQueueDepths pushes every channel depth of the delivery topic
// into the topic-depth gauge and returns the worker channel's backlog.
func recordQueueDepths(stats nsqStats, topic, channel string) int64 {
	var backlog int64
	for _, t := range stats.Topics {
		if t.Name != topic {
			continue
		}
		for _, c := range t.Channels {
			if c.Name == channel {
				backlog = c.Depth
			}
			metrics.UpdateNSQTopicDepth(t.Name, c.Name, float64(c.Depth))
		}
	}
	return backlog
}

// nsqdHTTPAddr derives the stats endpoint from the TCP address; nsqd
// serves HTTP one port above TCP by convention.
func nsqdHTTPAddr(tcpAddr string) string {
	return strings.Replace(tcpAddr, ":4150", ":4151", 1)
}

// startBacklogMonitor polls nsqd stats and keeps the backlog gauges
// current so alerting can see a stuck or flooded queue.
func startBacklogMonitor(cfg config.Config, logger *logging.Logger) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}
		statsURL := fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr(cfg.NSQ.NsqdTCPAddr))

		for range ticker.C {
			resp, err := httpClient.Get(statsURL)
			if err != nil {
				logger.Plain().WithError(err).Error("failed to get NSQ stats")
				continue
			}
			var stats nsqStats
			err = json.NewDecoder(resp.Body).Decode(&stats)
			resp.Body.Close()
			if err != nil {
				logger.Plain().WithError(err).Error("failed to decode NSQ stats")
				continue
			}
			depth := recordQueueDepths(stats, cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel)
			metrics.UpdateWorkerBacklog(float64(depth))
		}
	}()
}
