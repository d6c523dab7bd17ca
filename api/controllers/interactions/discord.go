package interactions

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/climbclub/ticketdesk/api/responses"
	"github.com/climbclub/ticketdesk/internal/issues"
	"github.com/climbclub/ticketdesk/internal/remediation"
	"github.com/climbclub/ticketdesk/internal/reports"
	"github.com/climbclub/ticketdesk/pkg/discord"
	pkgerrors "github.com/climbclub/ticketdesk/pkg/errors"
	"github.com/climbclub/ticketdesk/pkg/logger"
	"github.com/climbclub/ticketdesk/pkg/redis"
)

const (
	ExportButtonID = "export_orders"
	exportModalID  = "export_orders_modal"
	startDateField = "start_date"
	endDateField   = "end_date"

	confirmPrefix = "confirm_"
	confirmField  = "CONFIRMER"
	confirmWord   = "CONFIRMER"

	lockScope          = "interaction"
	defaultLockTTL     = 2 * time.Minute
	defaultWorkTimeout = 90 * time.Second
)

type ActionRunner interface {
	Handle(ctx context.Context, req remediation.Request) (*remediation.Outcome, error)
}

type Exporter interface {
	Export(ctx context.Context, from, to string) (*reports.Export, error)
}

// Replier edits the deferred reply once background work is done.
type Replier interface {
	EditInteractionReply(ctx context.Context, interaction *discordgo.Interaction, content string, files []discord.File) error
}

// Locker serializes operator actions per order across instances.
type Locker interface {
	Acquire(ctx context.Context, scope, id, owner string, ttl time.Duration) (redis.Release, bool, error)
}

type Params struct {
	PublicKey   ed25519.PublicKey
	Actions     ActionRunner
	Exporter    Exporter
	Replier     Replier
	Locker      Locker
	Logger      *logger.Logger
	LockTTL     time.Duration
	WorkTimeout time.Duration
}

// Handler answers chat interactions. Anything slower than a modal is
// deferred and finished in the background.
type Handler struct {
	key         ed25519.PublicKey
	actions     ActionRunner
	exporter    Exporter
	replier     Replier
	locker      Locker
	logg        *logger.Logger
	lockTTL     time.Duration
	workTimeout time.Duration
	wg          sync.WaitGroup
}

func NewHandler(params Params) (*Handler, error) {
	switch {
	case len(params.PublicKey) != ed25519.PublicKeySize:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "interaction public key required")
	case params.Actions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "remediation handler required")
	case params.Exporter == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order exporter required")
	case params.Replier == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "interaction replier required")
	case params.Locker == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "order lock required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	workTimeout := params.WorkTimeout
	if workTimeout <= 0 {
		workTimeout = defaultWorkTimeout
	}
	return &Handler{
		key:         params.PublicKey,
		actions:     params.Actions,
		exporter:    params.Exporter,
		replier:     params.Replier,
		locker:      params.Locker,
		logg:        logg,
		lockTTL:     lockTTL,
		workTimeout: workTimeout,
	}, nil
}

// Wait blocks until every background job started so far has replied.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !discord.VerifyRequest(r, h.key) {
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid request signature"))
		return
	}

	var interaction discordgo.Interaction
	if err := json.NewDecoder(r.Body).Decode(&interaction); err != nil {
		responses.WriteError(ctx, h.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid interaction"))
		return
	}
	ctx = h.logg.WithOperator(ctx, operatorOf(&interaction))

	switch interaction.Type {
	case discordgo.InteractionPing:
		respond(w, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionMessageComponent:
		h.onButton(ctx, w, &interaction)
	case discordgo.InteractionModalSubmit:
		h.onModal(ctx, w, &interaction)
	default:
		responses.WriteError(ctx, h.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported interaction type"))
	}
}

func (h *Handler) onButton(ctx context.Context, w http.ResponseWriter, interaction *discordgo.Interaction) {
	customID := interaction.MessageComponentData().CustomID
	if customID == ExportButtonID {
		respond(w, exportModal())
		return
	}

	name, orderID := discord.ParseCustomID(customID)
	action, err := issues.ParseAction(name)
	if err != nil || orderID == "" {
		h.logg.Warn(h.logg.WithField(ctx, "custom_id", customID), "unknown interaction button")
		respond(w, ephemeral("Action inconnue."))
		return
	}
	if action.NeedsConfirmation() {
		respond(w, confirmationModal(action, orderID))
		return
	}
	h.deferAction(ctx, w, interaction, action, orderID)
}

func (h *Handler) onModal(ctx context.Context, w http.ResponseWriter, interaction *discordgo.Interaction) {
	data := interaction.ModalSubmitData()
	values := discord.ModalValues(data)

	if data.CustomID == exportModalID {
		respond(w, deferred())
		h.background(ctx, interaction, func(ctx context.Context) {
			h.runExport(ctx, interaction, values[startDateField], values[endDateField])
		})
		return
	}

	name, orderID := discord.ParseCustomID(strings.TrimPrefix(data.CustomID, confirmPrefix))
	action, err := issues.ParseAction(name)
	if !strings.HasPrefix(data.CustomID, confirmPrefix) || err != nil || orderID == "" {
		h.logg.Warn(h.logg.WithField(ctx, "custom_id", data.CustomID), "unknown modal submission")
		respond(w, ephemeral("Formulaire inconnu."))
		return
	}
	if values[confirmField] != confirmWord {
		respond(w, ephemeral(fmt.Sprintf(`Confirmation invalide : l'action sur la commande %s n'a pas été exécutée.`, orderID)))
		return
	}
	h.deferAction(ctx, w, interaction, action, orderID)
}

func (h *Handler) deferAction(ctx context.Context, w http.ResponseWriter, interaction *discordgo.Interaction, action issues.Action, orderID string) {
	respond(w, deferred())
	h.background(ctx, interaction, func(ctx context.Context) {
		h.runAction(ctx, interaction, action, orderID)
	})
}

// background detaches work from the request so the deferred ack returns
// within the platform's three second window.
func (h *Handler) background(ctx context.Context, interaction *discordgo.Interaction, work func(context.Context)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.workTimeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				h.logg.Error(ctx, "interaction job panicked", fmt.Errorf("panic: %v", rec))
				h.reply(ctx, interaction, "Une erreur inattendue s'est produite.", nil)
			}
		}()
		work(ctx)
	}()
}

func (h *Handler) runAction(ctx context.Context, interaction *discordgo.Interaction, action issues.Action, orderID string) {
	ctx = h.logg.WithOrderID(ctx, orderID)
	release, ok, err := h.locker.Acquire(ctx, lockScope, orderID, interaction.ID, h.lockTTL)
	if err != nil {
		h.logg.Error(ctx, "acquire order lock failed", err)
		h.reply(ctx, interaction, remediation.Describe(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order lock"), orderID), nil)
		return
	}
	if !ok {
		h.reply(ctx, interaction, fmt.Sprintf("Une action est déjà en cours pour la commande %s.", orderID), nil)
		return
	}
	defer func() {
		if err := release(ctx); err != nil {
			h.logg.Error(ctx, "release order lock failed", err)
		}
	}()

	out, err := h.actions.Handle(ctx, remediation.Request{
		OrderID:  orderID,
		Action:   action,
		Operator: operatorOf(interaction),
	})
	if err != nil {
		if remediation.IsRefusal(err) {
			h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "operator action refused")
		} else {
			h.logg.Error(ctx, "operator action failed", err)
		}
		h.reply(ctx, interaction, remediation.Describe(err, orderID), nil)
		return
	}
	h.reply(ctx, interaction, out.Message, out.Files)
}

func (h *Handler) runExport(ctx context.Context, interaction *discordgo.Interaction, from, to string) {
	exp, err := h.exporter.Export(ctx, from, to)
	if err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "order export failed")
		h.reply(ctx, interaction, "Une erreur s'est produite lors de l'export des commandes : "+publicMessage(err), nil)
		return
	}
	if exp.Rows == 0 {
		h.reply(ctx, interaction, exp.Message, nil)
		return
	}
	h.reply(ctx, interaction, exp.Message, []discord.File{exp.File()})
}

func (h *Handler) reply(ctx context.Context, interaction *discordgo.Interaction, content string, files []discord.File) {
	if err := h.replier.EditInteractionReply(ctx, interaction, content, files); err != nil {
		h.logg.Error(ctx, "edit interaction reply failed", err)
	}
}

func operatorOf(interaction *discordgo.Interaction) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func publicMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil && pkgerrors.MetadataFor(typed.Code()).DetailsAllowed {
		return typed.Message()
	}
	return "erreur interne"
}

func respond(w http.ResponseWriter, resp *discordgo.InteractionResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func deferred() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}
}

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}
}
