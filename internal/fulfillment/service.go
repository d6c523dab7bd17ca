package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/pkg/config"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
)

const (
	defaultMaxItems       = 10
	defaultFetchParallel  = 10
	defaultRecipientField = "discord"
)

type Gateway interface {
	GetOrder(ctx context.Context, orderID string) (*helloasso.Order, error)
}

type Inventory interface {
	ListUnsold(ctx context.Context, count int) ([]models.Ticket, error)
	AllocateMany(ctx context.Context, orderID string, ticketIDs []uuid.UUID) ([]models.OrderRecord, error)
}

type Ledger interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	MarkTicketsProcessed(ctx context.Context, ticketIDs []uuid.UUID) (int64, error)
}

type IssueTracker interface {
	Exists(ctx context.Context, orderID string) (bool, error)
	Raise(ctx context.Context, in issues.RaiseInput) (*models.Issue, error)
	Refresh(ctx context.Context, orderID string) (*models.Issue, error)
}

// Panels keeps operators informed. Implementations swallow chat failures.
type Panels interface {
	Publish(ctx context.Context, issue *models.Issue)
	Notify(ctx context.Context, text string)
}

type Messenger interface {
	EnsureMember(ctx context.Context, recipientID string) error
	CreateDirectChannel(ctx context.Context, recipientID string) (string, error)
	SendFiles(ctx context.Context, channelID, message string, files []discord.File) error
}

type ContentStore interface {
	Download(ctx context.Context, object string) ([]byte, error)
}

// ServiceParams bundles the pipeline's collaborators.
type ServiceParams struct {
	Gateway   Gateway
	Inventory Inventory
	Ledger    Ledger
	Issues    IssueTracker
	Panels    Panels
	Messenger Messenger
	Content   ContentStore
	Logger    *logger.Logger
	Metrics   *metrics.FulfillmentMetrics
	Config    config.FulfillmentConfig
}

// Service runs the fulfillment pipeline for paid orders.
type Service struct {
	gateway   Gateway
	inventory Inventory
	ledger    Ledger
	issues    IssueTracker
	panels    Panels
	messenger Messenger
	content   ContentStore
	logg      *logger.Logger
	metrics   *metrics.FulfillmentMetrics

	maxItems       int
	fetchParallel  int
	recipientField string
	now            func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	case params.Inventory == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ticket inventory required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order ledger required")
	case params.Issues == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "issue tracker required")
	case params.Panels == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "operator panels required")
	case params.Messenger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "messenger required")
	case params.Content == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "content store required")
	}

	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	s := &Service{
		gateway:        params.Gateway,
		inventory:      params.Inventory,
		ledger:         params.Ledger,
		issues:         params.Issues,
		panels:         params.Panels,
		messenger:      params.Messenger,
		content:        params.Content,
		logg:           logg,
		metrics:        params.Metrics,
		maxItems:       params.Config.MaxItems,
		fetchParallel:  params.Config.FetchParallel,
		recipientField: params.Config.RecipientField,
		now:            time.Now,
	}
	if s.maxItems <= 0 {
		s.maxItems = defaultMaxItems
	}
	if s.fetchParallel <= 0 {
		s.fetchParallel = defaultFetchParallel
	}
	if strings.TrimSpace(s.recipientField) == "" {
		s.recipientField = defaultRecipientField
	}
	return s, nil
}

type Outcome string

const (
	// OutcomeCompleted: every recipient received their tickets.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDuplicate: the order was already handled by an earlier run.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIssue: the run halted before allocation and raised an issue.
	OutcomeIssue Outcome = "issue"
	// OutcomePartial: tickets were allocated but some deliveries failed.
	OutcomePartial Outcome = "partial"
)

// RecipientFailure explains why one recipient got nothing.
type RecipientFailure struct {
	RecipientID string `json:"recipient_id"`
	Reason      string `json:"reason"`
}

// Result is the terminal state of one run.
type Result struct {
	OrderID   string             `json:"order_id"`
	Outcome   Outcome            `json:"outcome"`
	Delivered []string           `json:"delivered,omitempty"`
	Failed    []RecipientFailure `json:"failed,omitempty"`
	Issue     *models.Issue      `json:"-"`
}

// Process fulfills orderID end to end. Problems with the order itself, the
// inventory or a recipient become issues and a nil error; only storage
// failures are returned.
func (s *Service) Process(ctx context.Context, orderID string) (result *Result, err error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	start := s.now()
	defer func() {
		outcome := "error"
		if err == nil && result != nil {
			outcome = string(result.Outcome)
		}
		s.metrics.ObserveRun(outcome, s.now().Sub(start))
	}()

	handled, err := s.alreadyHandled(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if handled {
		s.logg.Info(ctx, "order already handled")
		return &Result{OrderID: orderID, Outcome: OutcomeDuplicate}, nil
	}

	order, err := s.gateway.GetOrder(ctx, orderID)
	if err != nil {
		s.logg.Error(ctx, "fetch order failed", err)
		return s.halt(ctx, orderID, Failure{
			Reason:      enums.IssueReasonGatewayUnavailable,
			Description: fmt.Sprintf("Impossible de récupérer la commande %s auprès de HelloAsso : %s", orderID, reasonOf(err)),
		}, nil)
	}

	plan, failure := s.Validate(order, orderID)
	if failure != nil {
		return s.halt(ctx, orderID, *failure, order.Raw)
	}

	assignments, failure, err := s.Allocate(ctx, orderID, plan)
	if err != nil {
		return nil, err
	}
	if failure != nil {
		if failure.Reason == enums.IssueReasonAllocationConflict {
			// A concurrent run for the same order won the race.
			if exists, exErr := s.ledger.Exists(ctx, orderID); exErr == nil && exists {
				s.logg.Warn(ctx, "order allocated by a concurrent run")
				return &Result{OrderID: orderID, Outcome: OutcomeDuplicate}, nil
			}
		}
		return s.halt(ctx, orderID, *failure, order.Raw)
	}

	return s.deliverAll(ctx, orderID, order.Raw, assignments)
}

func (s *Service) alreadyHandled(ctx context.Context, orderID string) (bool, error) {
	exists, err := s.issues.Exists(ctx, orderID)
	if err != nil || exists {
		return exists, err
	}
	return s.ledger.Exists(ctx, orderID)
}

func (s *Service) halt(ctx context.Context, orderID string, failure Failure, raw json.RawMessage) (*Result, error) {
	issue, err := s.issues.Raise(ctx, issues.RaiseInput{
		OrderID:     orderID,
		Description: failure.Description,
		Reason:      failure.Reason,
		Order:       raw,
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", failure.Reason.String()), "order handed to operators")
	s.panels.Publish(ctx, issue)
	return &Result{OrderID: orderID, Outcome: OutcomeIssue, Issue: issue}, nil
}

func (s *Service) deliverAll(ctx context.Context, orderID string, raw json.RawMessage, assignments []Assignment) (*Result, error) {
	result := &Result{OrderID: orderID, Outcome: OutcomeCompleted}
	batches := s.fetchAll(ctx, assignments)

	var confirm []uuid.UUID
	var deliveryErr error
	for _, b := range batches {
		rctx := s.logg.WithRecipient(ctx, b.RecipientID)
		err := b.fetchErr
		if err == nil {
			err = s.DeliverTo(rctx, orderID, b.RecipientID, b.files)
		}
		if err != nil {
			s.metrics.IncDelivery("failed")
			s.logg.Error(rctx, "ticket delivery failed", err)
			deliveryErr = multierr.Append(deliveryErr, fmt.Errorf("recipient %s: %w", b.RecipientID, err))
			result.Failed = append(result.Failed, RecipientFailure{RecipientID: b.RecipientID, Reason: reasonOf(err)})

			s.panels.Notify(rctx, fmt.Sprintf("Échec de l'envoi des tickets de la commande %s à <@%s> : %s",
				orderID, b.RecipientID, reasonOf(err)))
			if _, err := s.issues.Raise(ctx, issues.RaiseInput{
				OrderID:     orderID,
				Description: describeFailures(orderID, result.Failed),
				Reason:      enums.IssueReasonDeliveryFailed,
				Order:       raw,
			}); err != nil {
				return nil, err
			}
			continue
		}

		s.metrics.IncDelivery("delivered")
		result.Delivered = append(result.Delivered, b.RecipientID)
		for _, t := range b.Tickets {
			confirm = append(confirm, t.ID)
		}
	}

	if len(confirm) > 0 {
		if _, err := s.ledger.MarkTicketsProcessed(ctx, confirm); err != nil {
			return nil, err
		}
	}
	if len(result.Failed) == 0 {
		s.logg.Info(ctx, "order fulfilled")
		return result, nil
	}

	// Flags depend on the confirmations above, so the panel is only posted
	// once they are written.
	issue, err := s.issues.Refresh(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.panels.Publish(ctx, issue)
	s.logg.Warn(s.logg.WithField(ctx, "delivery_errors", deliveryErr.Error()), "order partially delivered")

	result.Outcome = OutcomePartial
	result.Issue = issue
	return result, nil
}

func describeFailures(orderID string, failures []RecipientFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, fmt.Sprintf("<@%s> (%s)", f.RecipientID, f.Reason))
	}
	return fmt.Sprintf("Les tickets de la commande %s n'ont pas pu être envoyés à : %s", orderID, strings.Join(parts, ", "))
}

// reasonOf is the operator-facing summary of err.
func reasonOf(err error) string {
	if typed := pkgerrors.As(err); typed != nil && typed.Message() != "" {
		return typed.Message()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "délai dépassé"
	}
	return err.Error()
}
