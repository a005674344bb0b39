// Package pipeline runs every inbound message through admission, dedup,
// mute handling, classification and the intent handlers.
package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teadesk-bot/internal/blob"
	"github.com/xaenox/teadesk-bot/internal/classifier"
	"github.com/xaenox/teadesk-bot/internal/conversation"
	"github.com/xaenox/teadesk-bot/internal/dedup"
	"github.com/xaenox/teadesk-bot/internal/models"
	"github.com/xaenox/teadesk-bot/internal/queries"
	"github.com/xaenox/teadesk-bot/internal/ratelimit"
	"github.com/xaenox/teadesk-bot/internal/router"
	"github.com/xaenox/teadesk-bot/internal/telemetry"
)

// Transport sends text and files to chat participants.
type Transport interface {
	SendText(ctx context.Context, to models.Sender, text string) error
	SendFile(ctx context.Context, to models.Sender, name string, r io.Reader) error
}

// DepartmentLister names the departments that currently have staff.
type DepartmentLister interface {
	Departments() []string
}

type QueryService interface {
	Factory(ctx context.Context, e models.EntitySet) (string, error)
	Elevation(ctx context.Context, e models.EntitySet) (string, error)
	MarketReport(ctx context.Context, e models.EntitySet) (blob.File, io.ReadCloser, error)
}

// Responder answers small talk.
type Responder interface {
	Reply(ctx context.Context, text string) (string, error)
}

// Deps are the collaborators of a Handler. Directory, Metrics and Logger
// may be nil.
type Deps struct {
	Limiter     *ratelimit.Limiter
	Dedup       *dedup.Cache
	State       *conversation.Controller
	Classifier  *classifier.Classifier
	Router      *router.Router
	Directory   DepartmentLister
	Queries     QueryService
	Responder   Responder
	Telemetry   *telemetry.Aggregator
	Metrics     *telemetry.Metrics
	Transport   Transport
	ContactInfo string
	Logger      *zap.Logger
}

type Handler struct {
	Deps
}

func New(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ContactInfo == "" {
		deps.ContactInfo = defaultContactInfo
	}
	return &Handler{Deps: deps}
}

// outcome is what a single message contributes to telemetry.
type outcome struct {
	intent   models.Intent
	success  bool
	recorded bool
}

func (o *outcome) fail() { o.success = false }

// Handle processes one inbound message to completion. It never panics.
func (h *Handler) Handle(ctx context.Context, msg models.InboundMessage) {
	if msg.IsGroup || msg.IsSelf {
		return
	}

	start := time.Now()
	out := &outcome{intent: models.IntentGeneral, success: true}

	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("Panic while handling message",
				zap.Any("panic", r),
				zap.String("sender", string(msg.Sender)),
				zap.Stack("stack"))
			h.send(ctx, msg.Sender, apologyText)
			out.recorded = true
			out.fail()
		}
		if out.recorded {
			h.Telemetry.Record(ctx, msg.Sender, out.intent, time.Since(start), out.success)
		}
	}()

	if !h.admit(ctx, msg) {
		return
	}

	h.State.Touch(msg.Sender)

	// Open tickets name their staff member, so a quoted reply is matched
	// against them without consulting the directory.
	if msg.HasQuote {
		if h.Router.CorrelateReply(ctx, msg) {
			out.intent = models.IntentStaffReply
			out.recorded = true
			return
		}
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
		h.handleCommand(ctx, msg, out)
		return
	}

	intent := h.Classifier.Classify(msg.Text)
	entities := h.Classifier.ExtractEntities(msg.Text)

	if !h.State.IsActive(msg.Sender) {
		if intent != models.IntentBotControl || classifier.Control(msg.Text) != classifier.ControlUnmute {
			h.ignore(msg.Sender)
			return
		}
	}

	out.intent = intent
	out.recorded = true

	h.Logger.Debug("Classified message",
		zap.String("sender", string(msg.Sender)),
		zap.String("intent", string(intent)),
		zap.Strings("factory_codes", entities.FactoryCodes),
		zap.String("sale", entities.SaleNumber),
		zap.String("elevation", entities.Elevation),
		zap.String("department", entities.Department))

	welcomed := false
	if intent != models.IntentBotControl && h.State.ShouldSendWelcome(msg.Sender) {
		welcomed = h.send(ctx, msg.Sender, welcomeText+"\n\n"+helpText) == nil
	}

	h.handleIntent(ctx, msg, intent, entities, welcomed, out)
}

// admit applies the rate limiter and the dedup cache.
func (h *Handler) admit(ctx context.Context, msg models.InboundMessage) bool {
	if !h.Limiter.Admit(msg.Sender) {
		h.Metrics.Dropped("rate_limited")
		if h.Limiter.Violations(msg.Sender) == 1 {
			wait := int(math.Ceil(h.Limiter.RemainingTime(msg.Sender).Seconds()))
			h.send(ctx, msg.Sender, rateLimitText(wait))
		}
		return false
	}

	hash := dedup.ContentHash(msg.Sender, msg.Text, msg.SentAt)
	if h.Dedup.IsDuplicate(msg.Sender, hash) {
		h.Metrics.Dropped("duplicate")
		h.Logger.Debug("Duplicate message ignored", zap.String("sender", string(msg.Sender)))
		return false
	}
	return true
}

func (h *Handler) ignore(sender models.Sender) {
	n := h.State.Ignore(sender)
	h.Metrics.Dropped("muted")
	h.Logger.Debug("Message from muted sender ignored",
		zap.String("sender", string(sender)),
		zap.Uint64("ignored_count", n))
}

func (h *Handler) handleIntent(ctx context.Context, msg models.InboundMessage, intent models.Intent, e models.EntitySet, welcomed bool, out *outcome) {
	to := msg.Sender

	switch intent {
	case models.IntentBotControl:
		h.handleControl(ctx, to, classifier.Control(msg.Text))

	case models.IntentHelp:
		h.send(ctx, to, helpText)

	case models.IntentContact:
		h.send(ctx, to, h.ContactInfo)

	case models.IntentStatus:
		h.send(ctx, to, statusText(h.Telemetry.Stats()))

	case models.IntentDepartmentContact:
		if e.Department == "" {
			h.send(ctx, to, askDepartmentText(h.departments()))
			out.fail()
			return
		}
		if !h.Router.Route(ctx, msg, e.Department, msg.Text) {
			h.send(ctx, to, routeFailedText(e.Department))
			out.fail()
			return
		}
		h.send(ctx, to, forwardedText(e.Department))

	case models.IntentFactoryQuery:
		text, err := h.Queries.Factory(ctx, e)
		h.answer(ctx, to, text, err, out)

	case models.IntentElevationQuery:
		text, err := h.Queries.Elevation(ctx, e)
		h.answer(ctx, to, text, err, out)

	case models.IntentMarketReport:
		h.sendReport(ctx, to, e, out)

	case models.IntentCasual:
		reply, err := h.Responder.Reply(ctx, msg.Text)
		if err != nil {
			h.Logger.Warn("Responder failed, using fallback", zap.Error(err))
		}
		h.send(ctx, to, reply)

	default:
		// general and irrelevant
		if welcomed || !h.State.ShouldRespondToGeneral(to) {
			return
		}
		h.send(ctx, to, generalHint)
	}
}

// departments prefers the live directory and falls back to the known names.
func (h *Handler) departments() []string {
	if h.Directory != nil {
		if names := h.Directory.Departments(); len(names) > 0 {
			return names
		}
	}
	return classifier.Departments()
}

func (h *Handler) handleControl(ctx context.Context, to models.Sender, action classifier.ControlAction) {
	switch action {
	case classifier.ControlMute:
		h.send(ctx, to, mutedText)
		h.State.Mute(to)
		h.Logger.Info("Sender muted the bot", zap.String("sender", string(to)))
	case classifier.ControlUnmute:
		h.State.Unmute(to)
		h.send(ctx, to, unmutedText)
		h.Logger.Info("Sender unmuted the bot", zap.String("sender", string(to)))
	default:
		h.send(ctx, to, controlHint)
	}
}

// answer sends a query result, a validation message, or the fetch failure text.
func (h *Handler) answer(ctx context.Context, to models.Sender, text string, err error, out *outcome) {
	if err != nil {
		h.queryFailed(ctx, to, err, out)
		return
	}
	h.send(ctx, to, text)
}

func (h *Handler) queryFailed(ctx context.Context, to models.Sender, err error, out *outcome) {
	out.fail()

	var verr *queries.ValidationError
	if errors.As(err, &verr) {
		h.send(ctx, to, verr.Message)
		return
	}
	h.Logger.Error("Query failed", zap.Error(err), zap.String("sender", string(to)))
	h.send(ctx, to, fetchFailText)
}

func (h *Handler) sendReport(ctx context.Context, to models.Sender, e models.EntitySet, out *outcome) {
	f, rc, err := h.Queries.MarketReport(ctx, e)
	if err != nil {
		h.queryFailed(ctx, to, err, out)
		return
	}
	defer rc.Close()

	if err := h.Transport.SendFile(ctx, to, f.BaseName(), rc); err != nil {
		h.Logger.Error("Failed to send report",
			zap.Error(err),
			zap.String("sender", string(to)),
			zap.String("file", f.Name))
		out.fail()
		h.send(ctx, to, fetchFailText)
		return
	}
	h.State.MarkResponded(to)
}

func (h *Handler) handleCommand(ctx context.Context, msg models.InboundMessage, out *outcome) {
	cmd := commandName(msg.Text)

	if !h.State.IsActive(msg.Sender) && cmd != "start" && cmd != "unmute" {
		h.ignore(msg.Sender)
		return
	}

	out.intent = models.IntentCommand
	out.recorded = true
	to := msg.Sender

	switch cmd {
	case "start":
		h.State.Unmute(to)
		h.State.ShouldSendWelcome(to)
		h.send(ctx, to, welcomeText+"\n\n"+helpText)
	case "help":
		h.send(ctx, to, helpText)
	case "status":
		h.send(ctx, to, statusText(h.Telemetry.Stats()))
	case "mute":
		h.handleControl(ctx, to, classifier.ControlMute)
	case "unmute":
		h.handleControl(ctx, to, classifier.ControlUnmute)
	default:
		h.send(ctx, to, unknownCommandText+"\n\n"+helpText)
	}
}

// commandName extracts "help" from "/help@TeaDeskBot extra".
func commandName(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// send delivers text and stamps the sender's last bot response on success.
// Failures are logged and returned but never change pipeline state.
func (h *Handler) send(ctx context.Context, to models.Sender, text string) error {
	if err := h.Transport.SendText(ctx, to, text); err != nil {
		h.Logger.Error("Failed to send message",
			zap.Error(err),
			zap.String("recipient", string(to)))
		return err
	}
	h.State.MarkResponded(to)
	return nil
}
