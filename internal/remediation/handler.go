package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/climbclub/ticketdesk/internal/fulfillment"
	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/internal/orders"
	"github.com/climbclub/ticketdesk/pkg/db/models"
	"github.com/climbclub/ticketdesk/pkg/discord"
	"github.com/climbclub/ticketdesk/pkg/enums"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/helloasso"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/metrics"
)

var (
	ErrNoAssociatedTickets    = pkgerrors.New(pkgerrors.CodeStateConflict, "order has no associated tickets")
	ErrTicketsStillAssigned   = pkgerrors.New(pkgerrors.CodeStateConflict, "tickets are still assigned to the order")
	ErrTicketsAlreadyAssigned = pkgerrors.New(pkgerrors.CodeConflict, "tickets already assigned to the order")
	ErrIssueNotFound          = issues.ErrIssueNotFound
	ErrActionNotAllowed       = pkgerrors.New(pkgerrors.CodeForbidden, "action not allowed for this issue")
)

type Tracker interface {
	Get(ctx context.Context, orderID string) (*models.Issue, error)
	Resolve(ctx context.Context, orderID, description string) (*models.Issue, error)
	Refresh(ctx context.Context, orderID string) (*models.Issue, error)
	SetReason(ctx context.Context, orderID string, reason enums.IssueReason, description string) (*models.Issue, error)
	SetSnapshot(ctx context.Context, orderID string, raw json.RawMessage) error
}

type Ledger interface {
	StateOf(ctx context.Context, orderID string) (orders.State, error)
	MarkProcessed(ctx context.Context, orderID string) (int64, error)
	TicketsForOrder(ctx context.Context, orderID string, activeOnly bool) ([]models.Ticket, error)
}

type Releaser interface {
	Release(ctx context.Context, orderID string) ([]models.Ticket, error)
}

type Gateway interface {
	GetOrder(ctx context.Context, orderID string) (*helloasso.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Pipeline is the part of fulfillment that remediation replays.
type Pipeline interface {
	Validate(order *helloasso.Order, orderID string) (*fulfillment.Plan, *fulfillment.Failure)
	Allocate(ctx context.Context, orderID string, plan *fulfillment.Plan) ([]fulfillment.Assignment, *fulfillment.Failure, error)
	FetchFiles(ctx context.Context, list []models.Ticket) ([]discord.File, error)
	DeliverTo(ctx context.Context, orderID, recipientID string, files []discord.File) error
}

type Panels interface {
	Publish(ctx context.Context, issue *models.Issue)
}

type HandlerParams struct {
	Tracker  Tracker
	Ledger   Ledger
	Releaser Releaser
	Gateway  Gateway
	Pipeline Pipeline
	Panels   Panels
	Logger   *logger.Logger
	Metrics  *metrics.OperationMetrics
	Location *time.Location
}

// Handler executes operator actions on issues.
type Handler struct {
	tracker  Tracker
	ledger   Ledger
	releaser Releaser
	gateway  Gateway
	pipeline Pipeline
	panels   Panels
	logg     *logger.Logger
	metrics  *metrics.OperationMetrics
	loc      *time.Location
}

func NewHandler(params HandlerParams) (*Handler, error) {
	switch {
	case params.Tracker == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "issue tracker required")
	case params.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order ledger required")
	case params.Releaser == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ticket releaser required")
	case params.Gateway == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	case params.Pipeline == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "fulfillment pipeline required")
	case params.Panels == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "operator panels required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		tracker:  params.Tracker,
		ledger:   params.Ledger,
		releaser: params.Releaser,
		gateway:  params.Gateway,
		pipeline: params.Pipeline,
		panels:   params.Panels,
		logg:     logg,
		metrics:  params.Metrics,
		loc:      loc,
	}, nil
}

// Request is one operator click, already confirmed when the action needs it.
type Request struct {
	OrderID  string
	Action   issues.Action
	Operator string
}

// Outcome is what the operator sees in reply.
type Outcome struct {
	Message string
	Files   []discord.File
	Issue   *models.Issue
}

// Handle runs req. Refusals come back as the package's sentinel errors.
func (h *Handler) Handle(ctx context.Context, req Request) (out *Outcome, err error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !req.Action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown action")
	}
	ctx = h.logg.WithOrderID(ctx, req.OrderID)
	ctx = h.logg.WithFields(ctx, map[string]any{"action": req.Action.String(), "operator_id": req.Operator})

	defer func() {
		result := "ok"
		switch {
		case err == nil:
		case IsRefusal(err):
			result = "refused"
		default:
			result = "error"
		}
		h.metrics.IncAction(req.Action.String(), result)
	}()

	issue, err := h.tracker.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	st, err := h.ledger.StateOf(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := precondition(req.Action, st); err != nil {
		return nil, err
	}
	if !issues.Capabilities(issue.Status, st, issue.Reason).Has(req.Action) {
		return nil, ErrActionNotAllowed
	}

	switch req.Action {
	case issues.ActionViewOrderDetails:
		return &Outcome{Message: h.details(issue), Issue: issue}, nil
	case issues.ActionViewTickets:
		return h.viewTickets(ctx, issue)
	case issues.ActionMarkOrderProcessed:
		return h.markOrderProcessed(ctx, req)
	case issues.ActionMarkIssueProcessed:
		return h.markIssueProcessed(ctx, req)
	case issues.ActionCancelOrder:
		return h.cancelOrder(ctx, req)
	case issues.ActionReleaseTickets:
		return h.releaseTickets(ctx, req)
	case issues.ActionFetchTickets:
		return h.fetchTickets(ctx, issue)
	}
	return nil, ErrActionNotAllowed
}

func precondition(action issues.Action, st orders.State) error {
	switch action {
	case issues.ActionViewTickets, issues.ActionMarkOrderProcessed, issues.ActionReleaseTickets:
		if st.Active() == 0 {
			return ErrNoAssociatedTickets
		}
	case issues.ActionMarkIssueProcessed, issues.ActionCancelOrder:
		if st.Active() > 0 {
			return ErrTicketsStillAssigned
		}
	case issues.ActionFetchTickets:
		if st.Active() > 0 {
			return ErrTicketsAlreadyAssigned
		}
	}
	return nil
}

// IsRefusal reports whether err is an expected refusal rather than a fault.
func IsRefusal(err error) bool {
	for _, sentinel := range []error{
		ErrNoAssociatedTickets,
		ErrTicketsStillAssigned,
		ErrTicketsAlreadyAssigned,
		ErrIssueNotFound,
		ErrActionNotAllowed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func (h *Handler) viewTickets(ctx context.Context, issue *models.Issue) (*Outcome, error) {
	list, err := h.ledger.TicketsForOrder(ctx, issue.OrderID, true)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNoAssociatedTickets
	}
	files, err := h.pipeline.FetchFiles(ctx, list)
	if err != nil {
		h.logg.Error(ctx, "fetch ticket files failed", err)
		return &Outcome{Message: fmt.Sprintf("Erreur lors de la récupération des tickets pour la commande %s.", issue.OrderID), Issue: issue}, nil
	}
	return &Outcome{Message: fmt.Sprintf("Tickets pour la commande %s :", issue.OrderID), Files: files, Issue: issue}, nil
}

func (h *Handler) markOrderProcessed(ctx context.Context, req Request) (*Outcome, error) {
	if _, err := h.ledger.MarkProcessed(ctx, req.OrderID); err != nil {
		if errors.Is(err, orders.ErrNoSuchOrder) {
			return nil, ErrNoAssociatedTickets
		}
		return nil, err
	}
	issue, err := h.tracker.Resolve(ctx, req.OrderID, "")
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Info(ctx, "order marked processed")
	return &Outcome{
		Message: fmt.Sprintf("La commande %s a été marquée comme traitée par <@%s>.", req.OrderID, req.Operator),
		Issue:   issue,
	}, nil
}

func (h *Handler) markIssueProcessed(ctx context.Context, req Request) (*Outcome, error) {
	issue, err := h.tracker.Resolve(ctx, req.OrderID, "")
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Info(ctx, "issue marked processed")
	return &Outcome{
		Message: fmt.Sprintf("Le problème %s a été marqué comme traité par <@%s>.", req.OrderID, req.Operator),
		Issue:   issue,
	}, nil
}

func (h *Handler) cancelOrder(ctx context.Context, req Request) (*Outcome, error) {
	if err := h.gateway.CancelOrder(ctx, req.OrderID); err != nil {
		h.logg.Error(ctx, "cancel order failed", err)
		return nil, err
	}
	description := fmt.Sprintf("La commande %s a été annulée par <@%s>.", req.OrderID, req.Operator)
	issue, err := h.tracker.Resolve(ctx, req.OrderID, description)
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Info(ctx, "order cancelled")
	return &Outcome{Message: description, Issue: issue}, nil
}

func (h *Handler) releaseTickets(ctx context.Context, req Request) (*Outcome, error) {
	restocked, err := h.releaser.Release(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if len(restocked) == 0 {
		return nil, ErrNoAssociatedTickets
	}
	description := fmt.Sprintf("Les %d ticket(s) de la commande %s ont été remis en vente par <@%s>.",
		len(restocked), req.OrderID, req.Operator)
	issue, err := h.tracker.SetReason(ctx, req.OrderID, enums.IssueReasonTicketsReleased, description)
	if err != nil {
		return nil, err
	}
	h.panels.Publish(ctx, issue)
	h.logg.Info(h.logg.WithField(ctx, "restocked", len(restocked)), "tickets released")
	return &Outcome{Message: description, Issue: issue}, nil
}
