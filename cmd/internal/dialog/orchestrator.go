// Package dialog routes an inbound user message to the correct handling
// path: an active guided flow, an image request, a flow trigger, or free
// chat against the full trimmed history.
package dialog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"muse/cmd/internal/access"
	"muse/cmd/internal/gateway"
	"muse/cmd/internal/metrics"
	"muse/cmd/internal/session"
)

const defaultDuetExchanges = 5

// ReplyKind classifies an outbound action.
type ReplyKind int

const (
	ReplyText ReplyKind = iota
	ReplyImage
	ReplyAudio
)

// Reply is one outbound action produced by handling an inbound message.
type Reply struct {
	Kind     ReplyKind
	Text     string
	ImageURL string
	Caption  string
	Audio    []byte
}

func textReply(s string) Reply { return Reply{Kind: ReplyText, Text: s} }

// Config tunes message classification and the duet feature.
type Config struct {
	// ImageTriggers are case-insensitive prefixes that route a message to
	// image generation ("draw", "нарисуй").
	ImageTriggers []string

	// FlowTriggers maps whole trigger phrases (lowercased) to guided flows.
	FlowTriggers map[string]session.FlowKind

	// DuetPersonas are the two speakers of a generated dialogue.
	DuetPersonas [2]string

	// DuetExchanges bounds how many back-and-forth rounds a duet runs.
	DuetExchanges int
}

// Orchestrator classifies inbound messages and invokes the capability
// gateway. All handling for a single user id is serialized: the per-user
// lock is held for one inbound message's handling, capability calls
// included, and no longer.
type Orchestrator struct {
	log      *slog.Logger
	access   *access.Service
	sessions *session.Manager
	gw       gateway.Gateway
	cfg      Config

	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(log *slog.Logger, acc *access.Service, sessions *session.Manager, gw gateway.Gateway, cfg Config) (*Orchestrator, error) {
	if log == nil || acc == nil || sessions == nil || gw == nil {
		return nil, access.ErrInvalidInput
	}
	if cfg.DuetExchanges <= 0 {
		cfg.DuetExchanges = defaultDuetExchanges
	}
	if cfg.DuetPersonas[0] == "" || cfg.DuetPersonas[1] == "" {
		cfg.DuetPersonas = [2]string{"Socrates", "Kant"}
	}
	return &Orchestrator{
		log:       log,
		access:    acc,
		sessions:  sessions,
		gw:        gw,
		cfg:       cfg,
		userLocks: make(map[int64]*sync.Mutex),
	}, nil
}

func (o *Orchestrator) userLock(userID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l := o.userLocks[userID]
	if l == nil {
		l = &sync.Mutex{}
		o.userLocks[userID] = l
	}
	return l
}

// HandleMessage handles one inbound text message end to end and returns
// the outbound replies. Operational failures never propagate as errors;
// they come back as user-facing replies.
func (o *Orchestrator) HandleMessage(ctx context.Context, userID int64, text string) ([]Reply, error) {
	if o == nil {
		return nil, access.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	if denied, replies := o.gate(ctx, userID, now); denied {
		return replies, nil
	}

	// Classification order: active flow wins over everything, then image
	// triggers, then flow triggers, then free chat.
	if _, step := o.sessions.ActiveFlow(userID); step != session.StepIdle {
		return o.advanceFlow(ctx, userID, text), nil
	}

	if session.IsCancel(text) {
		return []Reply{textReply(msgNothingCancel)}, nil
	}

	if prompt, ok := o.matchImageTrigger(text); ok {
		return o.generateImage(ctx, userID, prompt), nil
	}

	if kind, ok := o.cfg.FlowTriggers[strings.ToLower(strings.TrimSpace(text))]; ok {
		o.sessions.BeginFlow(userID, kind)
		metrics.MessagesTotal.WithLabelValues("flow").Inc()
		return []Reply{textReply(promptFor(session.StepVoice))}, nil
	}

	return o.freeChat(ctx, userID, text), nil
}

// HandleImage handles an inbound image: it is described by the vision
// capability and the exchange joins the user's history.
func (o *Orchestrator) HandleImage(ctx context.Context, userID int64, image []byte, caption string) ([]Reply, error) {
	if o == nil {
		return nil, access.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	if denied, replies := o.gate(ctx, userID, now); denied {
		return replies, nil
	}

	question := strings.TrimSpace(caption)
	if question == "" {
		question = "Describe this image."
	}

	desc, err := o.gw.DescribeImage(ctx, image, question)
	if err != nil {
		o.log.Error("dialog.capability.fail", "op", "vision", "user_id", userID, "err", err)
		metrics.CapabilityFailuresTotal.WithLabelValues("vision").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return []Reply{textReply(msgApology)}, nil
	}

	o.sessions.AppendUserTurn(userID, question)
	o.sessions.AppendAssistantTurn(userID, desc)
	metrics.MessagesTotal.WithLabelValues("vision").Inc()
	return []Reply{textReply(desc)}, nil
}

// HandleDuet generates a bounded dialogue between the two configured
// personas on the given topic. It uses a throwaway history and never
// touches the user's session history.
func (o *Orchestrator) HandleDuet(ctx context.Context, userID int64, topic string) ([]Reply, error) {
	if o == nil {
		return nil, access.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := o.userLock(userID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	if denied, replies := o.gate(ctx, userID, now); denied {
		return replies, nil
	}

	topic = strings.TrimSpace(topic)
	if topic == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return []Reply{textReply(msgEmptyTopic)}, nil
	}

	a, b := o.cfg.DuetPersonas[0], o.cfg.DuetPersonas[1]
	local := []gateway.Message{{
		Role: "system",
		Content: fmt.Sprintf(
			"You are staging a philosophical dialogue between %s and %s on the topic %q. %s opens the dialogue.",
			a, b, topic, a),
	}}

	replies := []Reply{textReply(fmt.Sprintf("Starting a dialogue on: %s", topic))}
	for i := 0; i < o.cfg.DuetExchanges; i++ {
		for _, persona := range []string{a, b} {
			line, err := o.personaLine(ctx, persona, local)
			if err != nil {
				o.log.Error("dialog.capability.fail", "op", "chat", "user_id", userID, "persona", persona, "err", err)
				metrics.CapabilityFailuresTotal.WithLabelValues("chat").Inc()
				metrics.MessagesTotal.WithLabelValues("failed").Inc()
				return append(replies, textReply(msgApology)), nil
			}
			spoken := fmt.Sprintf("%s: %s", persona, line)
			local = append(local, gateway.Message{Role: "assistant", Content: spoken})
			replies = append(replies, textReply(spoken))
		}
	}

	metrics.MessagesTotal.WithLabelValues("duet").Inc()
	return append(replies, textReply("The dialogue is over. Send a new topic to start another.")), nil
}

func (o *Orchestrator) personaLine(ctx context.Context, persona string, local []gateway.Message) (string, error) {
	prompt := append(append([]gateway.Message(nil), local...), gateway.Message{
		Role:    "user",
		Content: fmt.Sprintf("You are now %s. Continue the dialogue in your own philosophical style.", persona),
	})
	line, err := o.gw.ChatComplete(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// gate runs the access check. It returns denied=true with the replies to
// send when the user may not proceed.
func (o *Orchestrator) gate(ctx context.Context, userID int64, now time.Time) (bool, []Reply) {
	grant, err := o.access.CheckAccess(ctx, userID, now)
	if err != nil {
		o.log.Error("dialog.access.fail", "user_id", userID, "err", err)
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return true, []Reply{textReply(msgApology)}
	}
	if grant.Granted {
		return false, nil
	}

	metrics.MessagesTotal.WithLabelValues("denied").Inc()
	if grant.DaysRemaining == access.UnlimitedDays {
		return true, []Reply{textReply(msgAccessDenied)}
	}
	return true, []Reply{textReply(msgAccessExpired)}
}

func (o *Orchestrator) advanceFlow(ctx context.Context, userID int64, input string) []Reply {
	res := o.sessions.AdvanceFlow(userID, input)
	switch res.Event {
	case session.EventCancelled:
		metrics.MessagesTotal.WithLabelValues("flow").Inc()
		return []Reply{textReply(msgCancelled)}

	case session.EventRejected:
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return []Reply{textReply(msgNotAChoice + promptFor(res.Step))}

	case session.EventAdvanced:
		metrics.MessagesTotal.WithLabelValues("flow").Inc()
		return []Reply{textReply(promptFor(res.Step))}

	case session.EventCompleted:
		return o.synthesize(ctx, userID, res.Request)

	default:
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return []Reply{textReply(msgApology)}
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, userID int64, req session.SpeechRequest) []Reply {
	// The flow is already idle here; reset again regardless of the
	// downstream outcome so a failure can never strand the user mid-flow.
	defer o.sessions.ResetFlow(userID)

	audio, err := o.gw.SynthesizeSpeech(ctx, gateway.SpeechRequest{
		Text:         req.Text,
		Voice:        req.Voice,
		Instructions: speechInstructions(req),
	})
	if err != nil {
		o.log.Error("dialog.capability.fail", "op", "speech", "user_id", userID, "err", err)
		metrics.CapabilityFailuresTotal.WithLabelValues("speech").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return []Reply{textReply(msgApology)}
	}

	metrics.MessagesTotal.WithLabelValues("flow").Inc()
	return []Reply{{Kind: ReplyAudio, Audio: audio}}
}

func speechInstructions(req session.SpeechRequest) string {
	var b strings.Builder
	if req.Emotion != "" && req.Emotion != "neutral" {
		fmt.Fprintf(&b, "Speak with a %s emotion.", req.Emotion)
	}
	if req.Tone != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "Use a %s tone of delivery.", req.Tone)
	}
	return b.String()
}

func (o *Orchestrator) generateImage(ctx context.Context, userID int64, prompt string) []Reply {
	if prompt == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return []Reply{textReply(msgEmptyPrompt)}
	}

	url, err := o.gw.GenerateImage(ctx, prompt)
	if err != nil {
		o.log.Error("dialog.capability.fail", "op", "image", "user_id", userID, "err", err)
		metrics.CapabilityFailuresTotal.WithLabelValues("image").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return []Reply{textReply(msgApology)}
	}

	metrics.MessagesTotal.WithLabelValues("image").Inc()
	return []Reply{{
		Kind:     ReplyImage,
		ImageURL: url,
		Caption:  fmt.Sprintf("Here is your image for: %s", prompt),
	}}
}

func (o *Orchestrator) freeChat(ctx context.Context, userID int64, text string) []Reply {
	o.sessions.AppendUserTurn(userID, text)

	history := o.sessions.History(userID)
	msgs := make([]gateway.Message, 0, len(history))
	for _, t := range history {
		msgs = append(msgs, gateway.Message{Role: string(t.Role), Content: t.Content})
	}

	reply, err := o.gw.ChatComplete(ctx, msgs)
	if err != nil {
		// The user turn stays in history; no assistant turn is appended
		// for the failed exchange.
		o.log.Error("dialog.capability.fail", "op", "chat", "user_id", userID, "err", err)
		metrics.CapabilityFailuresTotal.WithLabelValues("chat").Inc()
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return []Reply{textReply(msgApology)}
	}

	o.sessions.AppendAssistantTurn(userID, reply)
	metrics.MessagesTotal.WithLabelValues("chat").Inc()
	return []Reply{textReply(reply)}
}

// matchImageTrigger reports whether text starts with an image trigger and
// returns the remainder as the prompt.
func (o *Orchestrator) matchImageTrigger(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, trig := range o.cfg.ImageTriggers {
		trig = strings.ToLower(strings.TrimSpace(trig))
		if trig == "" || !strings.HasPrefix(lower, trig) {
			continue
		}
		return strings.TrimSpace(trimmed[len(trig):]), true
	}
	return "", false
}
