package usecase

import (
	"context"
	"errors"
	"strings"

	"cart-recovery-agent/internal/domain"
)

const DefaultCoupon = "DSC20"

// Responder turns a conversation into the next assistant text through an LLM.
type Responder struct {
	llm    LLMClient
	model  string
	coupon string
}

func NewResponder(llm LLMClient, model, coupon string) (*Responder, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	coupon = strings.TrimSpace(coupon)
	if coupon == "" {
		coupon = DefaultCoupon
	}
	return &Responder{llm: llm, model: model, coupon: coupon}, nil
}

func (r *Responder) Generate(ctx context.Context, history []domain.Turn, data domain.CustomerData) (string, error) {
	messages := buildPromptMessages(promptContext{coupon: r.coupon, data: data}, history)
	return r.llm.Chat(ctx, r.model, messages)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
