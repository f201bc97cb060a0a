// Package metrics exposes crawl counters through a Prometheus registry.
//
// A Recorder is handed to the scheduler as its observer and to the API
// client as its request observer; the command layer reports finished tasks.
// The registry is served over HTTP, written to a node-exporter textfile, or
// both.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/logger"
)

const namespace = "threadcrawl"

// Recorder holds the crawl metrics.
type Recorder struct {
	registry *prometheus.Registry

	admitted   prometheus.Counter
	waits      prometheus.Counter
	waited     prometheus.Counter
	terminated prometheus.Counter
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	tasks      *prometheus.CounterVec
	posts      prometheus.Counter
	comments   prometheus.Counter
	remaining  prometheus.Gauge
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_admitted_total",
			Help:      "Remote calls admitted by the scheduler.",
		}),
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_waits_total",
			Help:      "Times a task slept for the quota window to refill.",
		}),
		waited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_wait_seconds_total",
			Help:      "Time spent waiting for quota.",
		}),
		terminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_terminations_total",
			Help:      "Tasks cut short because the quota ran out.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Remote API calls by endpoint and status code.",
		}, []string{"endpoint", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Remote API call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by final stage and outcome.",
		}, []string{"stage", "outcome"}),
		posts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_total",
			Help:      "Posts collected by successful tasks.",
		}),
		comments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_total",
			Help:      "Comments collected by successful tasks.",
		}),
		remaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quota_remaining",
			Help:      "Calls left in the current quota window.",
		}),
	}

	r.registry.MustRegister(
		r.admitted, r.waits, r.waited, r.terminated,
		r.requests, r.latency, r.tasks, r.posts, r.comments, r.remaining,
	)
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) Admitted() {
	r.admitted.Inc()
}

func (r *Recorder) Waited(d time.Duration) {
	r.waits.Inc()
	r.waited.Add(d.Seconds())
}

func (r *Recorder) Terminated() {
	r.terminated.Inc()
}

// ObserveRequest records a remote call. status 0 is reported as "error".
func (r *Recorder) ObserveRequest(endpoint string, status int, d time.Duration) {
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	r.requests.WithLabelValues(endpoint, code).Inc()
	r.latency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveTask records a finished task.
func (r *Recorder) ObserveTask(res *crawler.Result) {
	outcome := "failed"
	switch {
	case res.Success && res.Partial:
		outcome = "partial"
	case res.Success:
		outcome = "success"
	}
	r.tasks.WithLabelValues(string(res.Stage), outcome).Inc()
	if res.Success {
		r.posts.Add(float64(res.Posts))
		r.comments.Add(float64(res.Comments))
	}
}

// SetRemaining records the quota left in the current window.
func (r *Recorder) SetRemaining(n int) {
	r.remaining.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the registry for the node exporter textfile
// collector.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string, log logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.InfoWithFields("Metrics endpoint listening", map[string]interface{}{
		"address": addr,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
