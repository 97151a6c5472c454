package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sigmachat_chat_requests_total",
		Help: "Chat requests by outcome (ok, rate_limited, unavailable, invalid, error).",
	}, []string{"outcome"})

	retrievalDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigmachat_retrieval_degraded_total",
		Help: "Retrievals that fell back to context-free composition.",
	})

	ingestChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigmachat_ingest_chunks_total",
		Help: "Document chunks written to the vector index.",
	})
)
