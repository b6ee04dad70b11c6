package utils

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PrometheusHarvestStarted  *prometheus.CounterVec
	PrometheusHarvestFinished *prometheus.CounterVec
	PrometheusPagesFetched    *prometheus.CounterVec
	PrometheusPageRetries     *prometheus.CounterVec
	PrometheusChunksWritten   *prometheus.CounterVec
	PrometheusRecordsWritten  *prometheus.CounterVec
	PrometheusRecordsDropped  *prometheus.CounterVec
	PrometheusDuplicatePages  *prometheus.CounterVec
	PrometheusChunksMerged    *prometheus.CounterVec

	PrometheusCurrentCursor       *prometheus.GaugeVec
	PrometheusLastHarvestDuration *prometheus.GaugeVec
)

func StartPrometheus(port string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(":"+port, nil)
		if err != nil {
			logger.Error().Str("err", err.Error()).Msg("prometheus start error")
		}
	}()
	logger.Info().Str("port", port).Msg("Started prometheus")
}

func init() {
	var labelNames = []string{"chain"}

	PrometheusHarvestStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_started",
	}, labelNames)

	PrometheusHarvestFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvest_finished",
	}, labelNames)

	PrometheusPagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pages_fetched",
	}, labelNames)

	PrometheusPageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "page_retries",
	}, labelNames)

	PrometheusChunksWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunks_written",
	}, labelNames)

	PrometheusRecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_written",
	}, labelNames)

	PrometheusRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "records_dropped",
	}, labelNames)

	PrometheusDuplicatePages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_pages",
	}, labelNames)

	PrometheusChunksMerged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chunks_merged",
	}, labelNames)

	PrometheusCurrentCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "current_cursor",
	}, labelNames)

	PrometheusLastHarvestDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "last_harvest_duration",
	}, labelNames)
}
