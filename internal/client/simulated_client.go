package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LeventeLantos/whatsapp-blast/internal/model"
)

type SimulatedConfig struct {
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64
}

func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		MinLatency:  time.Second,
		MaxLatency:  3 * time.Second,
		SuccessRate: 0.9,
	}
}

// SimulatedClient stands in for the provider: it waits a random latency
// and then succeeds with SuccessRate or fails with a random reason.
type SimulatedClient struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedClient(cfg SimulatedConfig, rnd *rand.Rand) (*SimulatedClient, error) {
	if cfg.MinLatency < 0 || cfg.MaxLatency < cfg.MinLatency {
		return nil, errors.New("latency range must satisfy 0 <= min <= max")
	}
	if cfg.SuccessRate < 0 || cfg.SuccessRate > 1 {
		return nil, errors.New("success rate must be within [0, 1]")
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SimulatedClient{cfg: cfg, rnd: rnd}, nil
}

func (c *SimulatedClient) Send(ctx context.Context, phoneNumber, message string, creds model.Credentials) (string, error) {
	latency, success, reason, seq := c.roll()

	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", &DeliveryError{Reason: ReasonNetworkTimeout, Err: ctx.Err()}
	case <-t.C:
	}

	if !success {
		return "", Failure(reason)
	}
	return fmt.Sprintf("wamid.sim.%s.%d", phoneNumber, seq), nil
}

func (c *SimulatedClient) roll() (time.Duration, bool, Reason, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	latency := c.cfg.MinLatency
	if span := c.cfg.MaxLatency - c.cfg.MinLatency; span > 0 {
		latency += time.Duration(c.rnd.Int64N(int64(span)))
	}
	success := c.rnd.Float64() < c.cfg.SuccessRate
	reason := Reasons[c.rnd.IntN(len(Reasons))]
	return latency, success, reason, c.rnd.Uint64()
}
