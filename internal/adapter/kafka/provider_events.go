package kafka

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/IBM/sarama"
	domain "github.com/aq2208/course-orders/internal/entity"
	"github.com/aq2208/course-orders/internal/logging"
	"github.com/aq2208/course-orders/internal/usecase"
)

// ProviderHeader names the provider that produced a bridged event.
const ProviderHeader = "provider"

type CallbackHandler interface {
	HandleCallback(ctx context.Context, provider string, raw []byte, headers http.Header) (usecase.CallbackResult, error)
}

// ProviderEvents feeds provider events from the internal bus into the same
// path as HTTP webhooks. Message headers become request headers.
type ProviderEvents struct {
	cb CallbackHandler
}

func NewProviderEvents(cb CallbackHandler) *ProviderEvents {
	return &ProviderEvents{cb: cb}
}

func (p *ProviderEvents) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	hdr := http.Header{}
	var provider string
	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		k := string(h.Key)
		if k == ProviderHeader {
			provider = string(h.Value)
			continue
		}
		hdr.Add(k, string(h.Value))
	}
	if provider == "" {
		return fmt.Errorf("%w: missing %q header", ErrSkip, ProviderHeader)
	}

	res, err := p.cb.HandleCallback(ctx, provider, msg.Value, hdr)
	if err != nil {
		if errors.Is(err, domain.ErrVerification) ||
			errors.Is(err, domain.ErrNotFound) ||
			errors.Is(err, domain.ErrValidation) {
			return fmt.Errorf("%w: %v", ErrSkip, err)
		}
		return err
	}
	logging.FromCtx(ctx).Info("provider event applied",
		"provider", provider, "payment_id", res.PaymentID,
		"payment_status", res.PaymentStatus, "duplicate", res.Duplicate)
	return nil
}
