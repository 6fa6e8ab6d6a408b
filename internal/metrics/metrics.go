// Package metrics is a best-effort observability sink for the
// pipeline: one point per Evaluate call, written to InfluxDB. The
// donor's go.mod pulls in influxdb-client-go/v2 but no donor file
// exercises it; this package is the new home for that dependency,
// playing the role a trading engine would give it for tick/latency
// telemetry — here it's decision/score/total-latency telemetry instead.
package metrics

import (
	"context"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/notifyhub/prioritycore/internal/domain"
)

// Sink writes one point per Evaluate call. Construction never fails;
// write failures are logged and swallowed since metrics must never
// perturb the decision path.
type Sink struct {
	writeAPI api.WriteAPIBlocking
	enabled  bool
}

// NoopSink returns a Sink that discards every point, used when no
// InfluxDB endpoint is configured.
func NoopSink() *Sink {
	return &Sink{enabled: false}
}

// New connects to an InfluxDB server and returns a Sink writing into
// org/bucket.
func New(url, token, org, bucket string) *Sink {
	client := influxdb2.NewClient(url, token)
	return &Sink{
		writeAPI: client.WriteAPIBlocking(org, bucket),
		enabled:  true,
	}
}

// RecordDecision writes one point describing the outcome of an
// Evaluate call: decision kind, final score, and total pipeline
// latency, tagged by event type and channel for aggregation.
func (s *Sink) RecordDecision(ctx context.Context, e domain.Event, d domain.Decision, latency time.Duration) {
	if !s.enabled {
		return
	}

	point := influxdb2.NewPoint(
		"notification_decision",
		map[string]string{
			"event_type": e.EventType,
			"channel":    string(e.Channel),
			"decision":   string(d.Decision),
		},
		map[string]interface{}{
			"score":      d.Score,
			"latency_ms": latency.Milliseconds(),
			"audit_id":   d.AuditID,
		},
		time.Now(),
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		log.Printf("metrics: write failed, dropping point: %v", err)
	}
}

// RecordStageFault records a single non-fatal stage fault (e.g. an AI
// enrichment timeout) so operators can trend how often each stage
// degrades without affecting the decision itself.
func (s *Sink) RecordStageFault(ctx context.Context, stage, reason string) {
	if !s.enabled {
		return
	}

	point := influxdb2.NewPoint(
		"notification_stage_fault",
		map[string]string{"stage": stage},
		map[string]interface{}{"reason": reason},
		time.Now(),
	)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		log.Printf("metrics: write failed, dropping fault point: %v", err)
	}
}
