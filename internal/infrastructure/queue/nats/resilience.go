package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/ebook-library/internal/core/domain"
	"github.com/kirillkom/ebook-library/internal/infrastructure/resilience"
)

func classifyNATSError(err error) resilience.Verdict {
	switch {
	case err == nil:
		return resilience.Verdict{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.Verdict{}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrConnectionReconnecting):
		return resilience.Verdict{Retry: true, CountFailure: true}
	default:
		return resilience.Verdict{CountFailure: true}
	}
}

func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retry {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
