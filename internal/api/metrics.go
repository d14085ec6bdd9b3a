package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	choicesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codelove_choices_total",
			Help: "Total number of server-adjudicated choices by action.",
		},
		[]string{"action"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codelove_submissions_total",
			Help: "Total number of code submissions by result.",
		},
		[]string{"result"},
	)

	endingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codelove_endings_total",
			Help: "Total number of resolved endings by heroine (empty for the default ending).",
		},
		[]string{"heroine"},
	)
)
