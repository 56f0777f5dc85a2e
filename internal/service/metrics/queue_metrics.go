package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DepthSource reports message counts of a job queue.
type DepthSource interface {
	Depth(ctx context.Context) (pending, retrying, dead int64, err error)
}

// QueueCollector exports queue depth at scrape time. A failed depth read
// emits nothing for that scrape.
type QueueCollector struct {
	src     DepthSource
	depth   *prometheus.Desc
	timeout time.Duration
}

func NewQueueCollector(queue string, src DepthSource) *QueueCollector {
	return &QueueCollector{
		src: src,
		depth: prometheus.NewDesc(
			"epicast_queue_messages",
			"Messages in the job queue by state",
			[]string{"state"},
			prometheus.Labels{"queue": queue},
		),
		timeout: 2 * time.Second,
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	pending, retrying, dead, err := c.src.Depth(ctx)
	if err != nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(retrying), "retrying")
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(dead), "dead")
}

// Register adds c to reg. Registering the same queue twice is not an error.
func Register(reg prometheus.Registerer, c *QueueCollector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
