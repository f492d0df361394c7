package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"muse/cmd/internal/access"
	"muse/cmd/internal/gateway"
	"muse/cmd/internal/session"
)

type fakeGateway struct {
	chatReply string
	chatErr   error
	chatCalls int
	lastChat  []gateway.Message

	imageURL   string
	imageErr   error
	imageCalls int

	audio       []byte
	speechErr   error
	speechCalls int
	lastSpeech  gateway.SpeechRequest

	visionReply string
	visionErr   error
	visionCalls int
}

func (f *fakeGateway) ChatComplete(_ context.Context, history []gateway.Message) (string, error) {
	f.chatCalls++
	f.lastChat = append([]gateway.Message(nil), history...)
	return f.chatReply, f.chatErr
}

func (f *fakeGateway) GenerateImage(_ context.Context, _ string) (string, error) {
	f.imageCalls++
	return f.imageURL, f.imageErr
}

func (f *fakeGateway) SynthesizeSpeech(_ context.Context, in gateway.SpeechRequest) ([]byte, error) {
	f.speechCalls++
	f.lastSpeech = in
	return f.audio, f.speechErr
}

func (f *fakeGateway) DescribeImage(_ context.Context, _ []byte, _ string) (string, error) {
	f.visionCalls++
	return f.visionReply, f.visionErr
}

type fixture struct {
	orch     *Orchestrator
	gw       *fakeGateway
	sessions *session.Manager
	access   *access.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	acc, err := access.NewService(log, access.NewInMemoryStore())
	if err != nil {
		t.Fatalf("new access service: %v", err)
	}
	sessions := session.NewManager(session.WithSystemPrompt("be helpful"))
	gw := &fakeGateway{
		chatReply:   "chat reply",
		imageURL:    "https://img.example/1.png",
		audio:       []byte("audio-bytes"),
		visionReply: "a cat on a mat",
	}

	orch, err := NewOrchestrator(log, acc, sessions, gw, Config{
		ImageTriggers: []string{"draw", "нарисуй"},
		FlowTriggers: map[string]session.FlowKind{
			"/speak":  session.FlowSpeech,
			"/speak+": session.FlowSpeechToned,
		},
		DuetExchanges: 1,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &fixture{orch: orch, gw: gw, sessions: sessions, access: acc}
}

// grantUser gives userID a fresh 30-day grant.
func (fx *fixture) grantUser(t *testing.T, userID int64) {
	t.Helper()

	ctx := context.Background()
	link, err := fx.access.IssueLink(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}
	if _, err := fx.access.RedeemLink(ctx, userID, link.Token, time.Now().UTC()); err != nil {
		t.Fatalf("redeem link: %v", err)
	}
}

func singleText(t *testing.T, replies []Reply) string {
	t.Helper()

	if len(replies) != 1 {
		t.Fatalf("replies=%d want=1 (%+v)", len(replies), replies)
	}
	if replies[0].Kind != ReplyText {
		t.Fatalf("reply kind=%v want text", replies[0].Kind)
	}
	return replies[0].Text
}

func TestHandleMessageDeniedWithoutGrant(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != msgAccessDenied {
		t.Fatalf("reply=%q want access-denied text", got)
	}
	if fx.gw.chatCalls != 0 {
		t.Fatal("denied message must not reach the gateway")
	}
}

func TestHandleMessageExpiredGrant(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-31 * 24 * time.Hour)
	link, err := fx.access.IssueLink(ctx, past)
	if err != nil {
		t.Fatalf("issue link: %v", err)
	}
	if _, err := fx.access.RedeemLink(ctx, 1, link.Token, past); err != nil {
		t.Fatalf("redeem link: %v", err)
	}

	replies, err := fx.orch.HandleMessage(ctx, 1, "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != msgAccessExpired {
		t.Fatalf("reply=%q want access-expired text", got)
	}
}

func TestFreeChatRoundTrip(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "what is stoicism?")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != "chat reply" {
		t.Fatalf("reply=%q", got)
	}

	// The submitted conversation carries system prompt and the user turn.
	if len(fx.gw.lastChat) != 2 {
		t.Fatalf("submitted history=%v", fx.gw.lastChat)
	}
	if fx.gw.lastChat[0].Role != "system" || fx.gw.lastChat[1].Content != "what is stoicism?" {
		t.Fatalf("submitted history=%v", fx.gw.lastChat)
	}

	h := fx.sessions.History(1)
	if len(h) != 3 || h[2].Role != session.RoleAssistant || h[2].Content != "chat reply" {
		t.Fatalf("stored history=%v", h)
	}
}

func TestFreeChatFailureKeepsUserTurnOnly(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	fx.gw.chatErr = errors.New("upstream 500")

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != msgApology {
		t.Fatalf("reply=%q want generic apology", got)
	}

	h := fx.sessions.History(1)
	if len(h) != 2 || h[1].Role != session.RoleUser {
		t.Fatalf("history after failure=%v want system+user only", h)
	}
}

func TestImageTriggerRoutesToGeneration(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "Draw a red fox")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(replies) != 1 || replies[0].Kind != ReplyImage {
		t.Fatalf("replies=%+v want one image reply", replies)
	}
	if replies[0].ImageURL != "https://img.example/1.png" {
		t.Fatalf("image url=%q", replies[0].ImageURL)
	}
	if fx.gw.imageCalls != 1 || fx.gw.chatCalls != 0 {
		t.Fatalf("imageCalls=%d chatCalls=%d", fx.gw.imageCalls, fx.gw.chatCalls)
	}
}

func TestImageTriggerWithoutPrompt(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "draw")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != msgEmptyPrompt {
		t.Fatalf("reply=%q want empty-prompt text", got)
	}
	if fx.gw.imageCalls != 0 {
		t.Fatal("empty prompt must not reach the gateway")
	}
}

func TestSpeechFlowLifecycle(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	ctx := context.Background()

	replies, err := fx.orch.HandleMessage(ctx, 1, "/speak")
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if got := singleText(t, replies); !strings.Contains(got, "voice") {
		t.Fatalf("voice prompt=%q", got)
	}

	if _, err := fx.orch.HandleMessage(ctx, 1, "alloy"); err != nil {
		t.Fatalf("voice: %v", err)
	}
	if _, err := fx.orch.HandleMessage(ctx, 1, "joyful"); err != nil {
		t.Fatalf("emotion: %v", err)
	}

	replies, err = fx.orch.HandleMessage(ctx, 1, "hello there")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if len(replies) != 1 || replies[0].Kind != ReplyAudio {
		t.Fatalf("replies=%+v want one audio reply", replies)
	}
	if string(replies[0].Audio) != "audio-bytes" {
		t.Fatalf("audio=%q", replies[0].Audio)
	}
	if fx.gw.speechCalls != 1 {
		t.Fatalf("speechCalls=%d want exactly 1", fx.gw.speechCalls)
	}
	if fx.gw.lastSpeech.Voice != "alloy" || fx.gw.lastSpeech.Text != "hello there" {
		t.Fatalf("speech request=%+v", fx.gw.lastSpeech)
	}
	if !strings.Contains(fx.gw.lastSpeech.Instructions, "joyful") {
		t.Fatalf("instructions=%q want emotion carried", fx.gw.lastSpeech.Instructions)
	}

	if kind, step := fx.sessions.ActiveFlow(1); kind != session.FlowNone || step != session.StepIdle {
		t.Fatalf("flow not idle after completion: kind=%q step=%v", kind, step)
	}
}

func TestActiveFlowWinsClassification(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	ctx := context.Background()

	if _, err := fx.orch.HandleMessage(ctx, 1, "/speak"); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Inside a flow, an image trigger is just a (bad) voice choice.
	replies, err := fx.orch.HandleMessage(ctx, 1, "draw a cat")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); !strings.HasPrefix(got, msgNotAChoice) {
		t.Fatalf("reply=%q want rejection re-prompt", got)
	}
	if fx.gw.imageCalls != 0 {
		t.Fatal("flow input must not trigger image generation")
	}
}

func TestFlowCancelProducesNoSynthesis(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	ctx := context.Background()

	if _, err := fx.orch.HandleMessage(ctx, 1, "/speak"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := fx.orch.HandleMessage(ctx, 1, "alloy"); err != nil {
		t.Fatalf("voice: %v", err)
	}

	replies, err := fx.orch.HandleMessage(ctx, 1, "/cancel")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := singleText(t, replies); got != msgCancelled {
		t.Fatalf("reply=%q want cancelled text", got)
	}
	if fx.gw.speechCalls != 0 {
		t.Fatal("cancelled flow must not synthesize")
	}
	if kind, step := fx.sessions.ActiveFlow(1); kind != session.FlowNone || step != session.StepIdle {
		t.Fatalf("flow not idle after cancel: kind=%q step=%v", kind, step)
	}
}

func TestCancelWithoutFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleMessage(context.Background(), 1, "cancel")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != msgNothingCancel {
		t.Fatalf("reply=%q", got)
	}
}

func TestSpeechFailureResetsFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	fx.gw.speechErr = errors.New("tts down")
	ctx := context.Background()

	for _, in := range []string{"/speak", "alloy", "calm"} {
		if _, err := fx.orch.HandleMessage(ctx, 1, in); err != nil {
			t.Fatalf("step %q: %v", in, err)
		}
	}

	replies, err := fx.orch.HandleMessage(ctx, 1, "say this")
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if got := singleText(t, replies); got != msgApology {
		t.Fatalf("reply=%q want generic apology", got)
	}
	if kind, step := fx.sessions.ActiveFlow(1); kind != session.FlowNone || step != session.StepIdle {
		t.Fatalf("flow stuck after failure: kind=%q step=%v", kind, step)
	}

	// The next message is ordinary free chat again.
	replies, err = fx.orch.HandleMessage(ctx, 1, "hello")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if got := singleText(t, replies); got != "chat reply" {
		t.Fatalf("follow-up reply=%q", got)
	}
}

func TestHandleImageDescribes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleImage(context.Background(), 1, []byte{0xFF, 0xD8}, "what is this?")
	if err != nil {
		t.Fatalf("HandleImage: %v", err)
	}
	if got := singleText(t, replies); got != "a cat on a mat" {
		t.Fatalf("reply=%q", got)
	}

	h := fx.sessions.History(1)
	if len(h) != 3 || h[2].Content != "a cat on a mat" {
		t.Fatalf("history=%v want vision exchange appended", h)
	}
}

func TestHandleImageFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	fx.gw.visionErr = errors.New("vision down")

	replies, err := fx.orch.HandleImage(context.Background(), 1, []byte{0xFF}, "")
	if err != nil {
		t.Fatalf("HandleImage: %v", err)
	}
	if got := singleText(t, replies); got != msgApology {
		t.Fatalf("reply=%q want generic apology", got)
	}
	if h := fx.sessions.History(1); len(h) != 0 {
		t.Fatalf("history=%v want untouched on failure", h)
	}
}

func TestHandleDuet(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	fx.gw.chatReply = "a considered line"

	replies, err := fx.orch.HandleDuet(context.Background(), 1, "virtue")
	if err != nil {
		t.Fatalf("HandleDuet: %v", err)
	}

	// Intro, two persona lines (one exchange), outro.
	if len(replies) != 4 {
		t.Fatalf("replies=%d want=4 (%+v)", len(replies), replies)
	}
	if !strings.HasPrefix(replies[1].Text, "Socrates: ") {
		t.Fatalf("first line=%q want Socrates prefix", replies[1].Text)
	}
	if !strings.HasPrefix(replies[2].Text, "Kant: ") {
		t.Fatalf("second line=%q want Kant prefix", replies[2].Text)
	}
	if fx.gw.chatCalls != 2 {
		t.Fatalf("chatCalls=%d want=2", fx.gw.chatCalls)
	}

	// The duet never touches the user's session history.
	if h := fx.sessions.History(1); len(h) != 0 {
		t.Fatalf("history=%v want untouched by duet", h)
	}
}

func TestHandleDuetEmptyTopic(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)

	replies, err := fx.orch.HandleDuet(context.Background(), 1, "   ")
	if err != nil {
		t.Fatalf("HandleDuet: %v", err)
	}
	if got := singleText(t, replies); got != msgEmptyTopic {
		t.Fatalf("reply=%q", got)
	}
}

func TestHandleDuetFailureStops(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.grantUser(t, 1)
	fx.gw.chatErr = errors.New("upstream down")

	replies, err := fx.orch.HandleDuet(context.Background(), 1, "virtue")
	if err != nil {
		t.Fatalf("HandleDuet: %v", err)
	}

	last := replies[len(replies)-1]
	if last.Text != msgApology {
		t.Fatalf("last reply=%q want apology", last.Text)
	}
	if fx.gw.chatCalls != 1 {
		t.Fatalf("chatCalls=%d want to stop after first failure", fx.gw.chatCalls)
	}
}
