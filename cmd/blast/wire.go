package main

import (
	"fmt"

	"github.com/LeventeLantos/whatsapp-blast/internal/client"
	"github.com/LeventeLantos/whatsapp-blast/internal/config"
	"github.com/LeventeLantos/whatsapp-blast/internal/service"
)

func newSendClient(cfg *config.Config) (service.SendClient, error) {
	switch cfg.Transport.Kind {
	case config.TransportWebhook:
		return client.NewWebhookClient(cfg.Transport.WebhookURL, cfg.Transport.WebhookRatePerSec), nil
	case config.TransportSimulated:
		return client.NewSimulatedClient(client.SimulatedConfig{
			MinLatency:  cfg.Send.LatencyMin,
			MaxLatency:  cfg.Send.LatencyMax,
			SuccessRate: float64(cfg.Send.SuccessPercent) / 100,
		}, nil)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
	}
}

func newSender(cfg *config.Config) (*service.Sender, error) {
	sc, err := newSendClient(cfg)
	if err != nil {
		return nil, err
	}
	return service.NewSender(sc, service.Options{
		Pacing:         cfg.Send.Pacing,
		AttemptTimeout: cfg.Send.AttemptTimeout,
	})
}
