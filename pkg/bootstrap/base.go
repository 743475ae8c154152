package bootstrap

import (
	"context"
	"fmt"

	"securebus/internal/config"
	"securebus/internal/consumer"
	"securebus/internal/logger"
	"securebus/internal/producer"
	"securebus/internal/transport"
)

// Base owns the messaging endpoints shared by every securebus process.
type Base struct {
	Config     *config.Config
	Logger     logger.Logger
	Transports *transport.Transports
	Producer   *producer.Producer
	Consumer   *consumer.Consumer
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config: cfg,
		Logger: log,
	}
}

func (b *Base) InitTransports() error {
	t, err := transport.New(b.Config.Broker, b.Config.CircuitBreaker, b.Logger)
	if err != nil {
		return fmt.Errorf("failed to create transports: %w", err)
	}
	b.Transports = t
	return nil
}

// ShutdownMessaging stops consuming before the producer drains, so records
// produced by handlers still reach the broker.
func (b *Base) ShutdownMessaging(ctx context.Context) []error {
	var errs []error

	if b.Consumer != nil {
		if err := b.Consumer.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("consumer disconnect error: %w", err))
		}
	}

	if b.Producer != nil {
		if err := b.Producer.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("producer disconnect error: %w", err))
		}
	}

	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	errs = append(errs, b.ShutdownMessaging(ctx)...)

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	b.Logger.Info("Application exited successfully")
	return nil
}
