package contentstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "contentstore",
		Name:      "uploads_total",
		Help:      "Blob uploads by outcome.",
	}, []string{"outcome"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "contentstore",
		Name:      "downloads_total",
		Help:      "Blob downloads by key path and outcome.",
	}, []string{"path", "outcome"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medledger",
		Subsystem: "contentstore",
		Name:      "upload_bytes_total",
		Help:      "Total ciphertext bytes uploaded.",
	})
)
