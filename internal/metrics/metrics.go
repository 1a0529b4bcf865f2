package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend", Name: "submissions_total", Help: "Attendance code submissions by result",
	}, []string{"result"})
	QuestionToggles = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "classattend", Name: "question_toggles_total", Help: "Question visibility changes",
	})
	StoreErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend", Name: "store_errors_total", Help: "Document store failures by operation",
	}, []string{"op"})
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "classattend", Name: "active_subscriptions", Help: "Live document store subscriptions",
	})
	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "classattend", Name: "jobs_processed_total", Help: "Background jobs by type and result",
	}, []string{"type", "result"})
)

func init() {
	prometheus.MustRegister(Submissions, QuestionToggles, StoreErrors, ActiveSubscriptions, JobsProcessed)
}

func Handler() http.Handler { return promhttp.Handler() }

// TrackSubscriptions adjusts the live subscription gauge.
func TrackSubscriptions(delta int) { ActiveSubscriptions.Add(float64(delta)) }
