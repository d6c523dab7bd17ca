package helloassowebhook

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/climbclub/ticketdesk/internal/fulfillment"
	"github.com/climbclub/ticketdesk/pkg/config"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
)

type Processor interface {
	Process(ctx context.Context, orderID string) (*fulfillment.Result, error)
}

type Guard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type ServiceParams struct {
	Processor Processor
	Guard     Guard
	Config    config.FulfillmentConfig
	Logger    *logger.Logger
}

// Service filters gateway notifications down to authorized payments on the
// configured form and hands their orders to fulfillment.
type Service struct {
	processor Processor
	guard     Guard
	formSlug  string
	formType  string
	logg      *logger.Logger
	validate  *validator.Validate
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fulfillment processor required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "idempotency guard required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		processor: params.Processor,
		guard:     params.Guard,
		formSlug:  strings.TrimSpace(params.Config.FormSlug),
		formType:  strings.TrimSpace(params.Config.FormType),
		logg:      logg,
		validate:  validator.New(),
	}, nil
}

type Status string

const (
	StatusProcessed Status = "processed"
	StatusIgnored   Status = "ignored"
	StatusReplayed  Status = "replayed"
)

// Ack is what the webhook answers. The gateway only looks at the status code.
type Ack struct {
	Status  Status              `json:"status"`
	OrderID string              `json:"order_id,omitempty"`
	Outcome fulfillment.Outcome `json:"outcome,omitempty"`
}

// HandleEvent processes one notification. Skipped events are acknowledged;
// an error means the gateway should retry.
func (s *Service) HandleEvent(ctx context.Context, event *helloasso.Event) (*Ack, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event is required")
	}
	if event.EventType != helloasso.EventTypePayment {
		return &Ack{Status: StatusIgnored}, nil
	}

	payment, err := event.Payment()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment payload")
	}
	if err := s.validate.Struct(payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment payload")
	}
	if !s.accepts(payment) {
		return &Ack{Status: StatusIgnored}, nil
	}

	orderID := fmt.Sprintf("%d", payment.Order.ID)
	ctx = s.logg.WithOrderID(ctx, orderID)
	key := fmt.Sprintf("payment:%d", payment.ID)

	seen, err := s.guard.CheckAndMark(ctx, key)
	if err != nil {
		return nil, err
	}
	if seen {
		s.logg.Info(ctx, "payment notification replayed")
		return &Ack{Status: StatusReplayed, OrderID: orderID}, nil
	}

	result, err := s.processor.Process(ctx, orderID)
	if err != nil {
		if delErr := s.guard.Delete(ctx, key); delErr != nil {
			s.logg.Error(ctx, "release idempotency key failed", delErr)
		}
		return nil, err
	}
	return &Ack{Status: StatusProcessed, OrderID: orderID, Outcome: result.Outcome}, nil
}

func (s *Service) accepts(p *helloasso.Payment) bool {
	if p.State != helloasso.PaymentStateAuthorized {
		return false
	}
	if s.formSlug != "" && !strings.EqualFold(p.Order.FormSlug, s.formSlug) {
		return false
	}
	if s.formType != "" && !strings.EqualFold(p.Order.FormType, s.formType) {
		return false
	}
	return true
}
