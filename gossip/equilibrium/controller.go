// Package equilibrium tunes the gossip broadcast interval so the ratio of
// outgoing announcements to integrated peer tips stabilizes near the
// critical-damping target lambda = eta = 1/sqrt(2).
package equilibrium

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coinjecture/node/log"
	"github.com/coinjecture/node/metrics"
)

const (
	defaultTickInterval = 30 * time.Second

	band = 0.05
	step = 0.10
	eps  = 1e-6

	// emaAlpha weights the newest per-window count against the running
	// average. Not spec-mandated; 0.3 gives a few-tick settling time
	// without reacting to single-tick noise.
	emaAlpha = 0.3
)

// Controller is the single writer of the broadcast interval. Gossip's
// broadcast and listen loops only ever read Interval().
type Controller struct {
	min, max time.Duration

	mu      sync.Mutex
	lambda  float64
	eta     float64
	interval time.Duration

	broadcastCount  int64
	integrationCount int64

	done   chan struct{}
	wg     sync.WaitGroup
	logger log.Logger
}

// New creates a Controller starting at initInterval, clamped thereafter to
// [min, max].
func New(initInterval, min, max time.Duration) *Controller {
	return &Controller{
		min:      min,
		max:      max,
		interval: initInterval,
		done:     make(chan struct{}),
		logger:   log.NewModuleLogger(log.Equilibrium),
	}
}

// RecordBroadcast is called once per outgoing tip announcement.
func (c *Controller) RecordBroadcast() {
	atomic.AddInt64(&c.broadcastCount, 1)
}

// RecordIntegration is called once per peer tip successfully integrated
// (i.e. at least one block fetched from that peer was accepted onto the
// ingest queue for consensus to commit).
func (c *Controller) RecordIntegration() {
	atomic.AddInt64(&c.integrationCount, 1)
}

// Interval returns the current broadcast period. The listen loop should
// use Interval() * 1.007 to de-phase from broadcast.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Start runs the adjustment tick loop in its own goroutine.
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.run()
}

func (c *Controller) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Controller) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(defaultTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.adjust()
		case <-c.done:
			return
		}
	}
}

func (c *Controller) adjust() {
	broadcasts := float64(atomic.SwapInt64(&c.broadcastCount, 0))
	integrations := float64(atomic.SwapInt64(&c.integrationCount, 0))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lambda = ema(c.lambda, broadcasts)
	c.eta = ema(c.eta, integrations)

	ratio := c.lambda / math.Max(c.eta, eps)

	switch {
	case ratio > 1+band:
		c.interval = clamp(time.Duration(float64(c.interval)*(1+step)), c.min, c.max)
	case ratio < 1-band:
		c.interval = clamp(time.Duration(float64(c.interval)*(1-step)), c.min, c.max)
	}

	metrics.CouplingRatio.Update(ratio)
	metrics.BroadcastInterval.Update(c.interval.Seconds())

	c.logger.Debug("equilibrium adjustment", "lambda", c.lambda, "eta", c.eta, "ratio", ratio, "interval", c.interval)
}

func ema(prev, sample float64) float64 {
	return emaAlpha*sample + (1-emaAlpha)*prev
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
