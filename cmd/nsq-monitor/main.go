package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegishook/aegishook/internal/config"
	"github.com/aegishook/aegishook/internal/logging"
)

// nsqStats is the slice of the nsqd stats document the monitor reads.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

// monitor scrapes nsqd and republishes queue depths as Prometheus
// gauges. It watches the delivery topic's worker channel plus the DLQ
// topic so operators can alert on backlog and on exhausted jobs piling
// up.
type monitor struct {
	topic    string
	channel  string
	dlqTopic string
	logger   *logging.Logger

	backlog         prometheus.Gauge
	channelDepth    *prometheus.GaugeVec
	channelInflight *prometheus.GaugeVec
}

func newMonitor(reg prometheus.Registerer, cfg config.NSQ, logger *logging.Logger) *monitor {
	m := &monitor{
		topic:    cfg.DeliveriesTopic,
		channel:  cfg.WorkerChannel,
		dlqTopic: cfg.DLQTopic,
		logger:   logger,
		backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegishook_queue_backlog",
			Help: "Messages waiting in the delivery queue's worker channel",
		}),
		channelDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegishook_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
		channelInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegishook_nsq_channel_inflight",
			Help: "In-flight messages of NSQ channels by topic and channel",
		}, []string{"topic", "channel"}),
	}
	reg.MustRegister(m.backlog, m.channelDepth, m.channelInflight)
	return m
}

// apply pushes one stats snapshot into the gauges.
func (m *monitor) apply(stats nsqStats) {
	for _, topic := range stats.Topics {
		if topic.TopicName != m.topic && topic.TopicName != m.dlqTopic {
			continue
		}
		for _, ch := range topic.Channels {
			if topic.TopicName == m.topic && ch.ChannelName == m.channel {
				m.backlog.Set(float64(ch.Depth))
			}
			m.channelDepth.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.Depth))
			m.channelInflight.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.InFlightCount))
		}
	}
}

func (m *monitor) scrape(nsqdHost string) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHost))
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}
	m.apply(stats)
	return nil
}

func (m *monitor) run(nsqdHost string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := m.scrape(nsqdHost); err != nil {
			m.logger.Plain().WithError(err).Error("stats scrape failed")
		}
	}
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("aegishook-nsq-monitor")

	nsqdHost := getEnv("NSQD_HTTP_ADDR", "nsqd:4151")
	port := getEnv("PORT", "8084")
	interval := getEnvInt("POLL_INTERVAL_SECONDS", 15)

	reg := prometheus.NewRegistry()
	m := newMonitor(reg, cfg.NSQ, logger)

	logger.Plain().WithFields(map[string]any{
		"nsqd":     nsqdHost,
		"port":     port,
		"interval": interval,
	}).Info("nsq monitor starting")

	go m.run(nsqdHost, time.Duration(interval)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logger.Plain().WithError(err).Fatal("nsq monitor server failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
