package lim

import (
	"sync"
	"time"

	"pasteward/metrics"
	"pasteward/svc/util"
)

const (
	anomalyMinRequests = 10
	anomalyErrorRate   = 5.0
)

// AnomalyDetector keeps a five-minute ring of request and error counts and calls
// onAnomaly when the rolling error rate crosses anomalyErrorRate.
type AnomalyDetector struct {
	mu        sync.Mutex
	window    []bucket
	current   int
	onAnomaly func()
	done      chan struct{}
	stopOnce  sync.Once
}
type bucket struct {
	requests int64
	errors   int64
}

func NewAnomalyDetector(onAnomaly func()) *AnomalyDetector {
	return &AnomalyDetector{
		window:    make([]bucket, 5),
		onAnomaly: onAnomaly,
		done:      make(chan struct{}),
	}
}
func (d *AnomalyDetector) Start() {
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.AdvanceWindow()
			case <-d.done:
				return
			}
		}
	}()
}
func (d *AnomalyDetector) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
}
func (d *AnomalyDetector) RecordRequest() {
	d.mu.Lock()
	d.window[d.current].requests++
	d.mu.Unlock()
}
func (d *AnomalyDetector) RecordError() {
	d.mu.Lock()
	d.window[d.current].errors++
	d.mu.Unlock()
}

// ErrorRate reports the rolling error percentage and request total.
func (d *AnomalyDetector) ErrorRate() (float64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rateLocked()
}
func (d *AnomalyDetector) rateLocked() (float64, int64) {
	var reqs, errs int64
	for _, b := range d.window {
		reqs += b.requests
		errs += b.errors
	}
	if reqs == 0 {
		return 0, 0
	}
	return float64(errs) / float64(reqs) * 100.0, reqs
}
func (d *AnomalyDetector) AdvanceWindow() {
	d.mu.Lock()
	rate, reqs := d.rateLocked()
	d.current = (d.current + 1) % len(d.window)
	d.window[d.current] = bucket{}
	d.mu.Unlock()
	metrics.RecentErrorRatePercent.Set(rate)
	if reqs > anomalyMinRequests && rate > anomalyErrorRate {
		util.Warn().Float64("error_rate", rate).Int64("requests", reqs).Msg("error rate anomaly, tightening submission limits")
		if d.onAnomaly != nil {
			d.onAnomaly()
		}
	}
}
