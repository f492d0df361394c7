package session

import "strings"

// FlowKind names a guided multi-step flow.
type FlowKind string

const (
	// FlowNone means no guided flow is active.
	FlowNone FlowKind = ""
	// FlowSpeech collects voice, emotion, and text for speech synthesis.
	FlowSpeech FlowKind = "speech"
	// FlowSpeechToned is FlowSpeech with an extra free-text tone step.
	FlowSpeechToned FlowKind = "speech_toned"
)

// Step identifies the current position inside a guided flow.
type Step int

const (
	StepIdle Step = iota
	StepVoice
	StepEmotion
	StepTone
	StepText
)

// Event classifies the outcome of one flow transition.
type Event int

const (
	// EventAdvanced means the input was accepted and the flow moved on.
	EventAdvanced Event = iota
	// EventRejected means the input did not match the expected type and
	// the flow did not move.
	EventRejected
	// EventCancelled means a cancel input reset the flow to idle.
	EventCancelled
	// EventCompleted means the final step finished; Request is valid.
	EventCompleted
)

// SpeechRequest is the payload collected by a completed speech flow.
type SpeechRequest struct {
	Voice   string
	Emotion string
	Tone    string
	Text    string
}

// Flow is the per-user guided-flow state.
type Flow struct {
	Kind    FlowKind
	Step    Step
	Voice   string
	Emotion string
	Tone    string
}

// FlowResult reports a transition outcome. Step is the state after the
// transition; Request is only populated on EventCompleted.
type FlowResult struct {
	Event   Event
	Step    Step
	Request SpeechRequest
}

// Voices is the fixed option set accepted at the voice step.
var Voices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// Emotions is the fixed option set accepted at the emotion step.
var Emotions = []string{"neutral", "joyful", "sad", "angry", "calm", "excited"}

var toneSkipWords = map[string]struct{}{
	"no": {}, "none": {}, "skip": {},
}

var cancelWords = map[string]struct{}{
	"/cancel": {}, "cancel": {},
}

// IsCancel reports whether input is a cancel word for guided flows.
func IsCancel(input string) bool {
	_, ok := cancelWords[strings.ToLower(strings.TrimSpace(input))]
	return ok
}

func (f *Flow) reset() {
	*f = Flow{}
}

func (f *Flow) begin(kind FlowKind) {
	*f = Flow{Kind: kind, Step: StepVoice}
}

// advance applies one input to the flow. Each step accepts exactly one
// input shape; anything else is rejected without moving the state.
func (f *Flow) advance(input string) FlowResult {
	input = strings.TrimSpace(input)

	if f.Step == StepIdle {
		return FlowResult{Event: EventRejected, Step: StepIdle}
	}
	if IsCancel(input) {
		f.reset()
		return FlowResult{Event: EventCancelled, Step: StepIdle}
	}

	switch f.Step {
	case StepVoice:
		v, ok := matchOption(input, Voices)
		if !ok {
			return FlowResult{Event: EventRejected, Step: f.Step}
		}
		f.Voice = v
		f.Step = StepEmotion
		return FlowResult{Event: EventAdvanced, Step: f.Step}

	case StepEmotion:
		e, ok := matchOption(input, Emotions)
		if !ok {
			return FlowResult{Event: EventRejected, Step: f.Step}
		}
		f.Emotion = e
		if f.Kind == FlowSpeechToned {
			f.Step = StepTone
		} else {
			f.Step = StepText
		}
		return FlowResult{Event: EventAdvanced, Step: f.Step}

	case StepTone:
		if input == "" {
			return FlowResult{Event: EventRejected, Step: f.Step}
		}
		if _, skip := toneSkipWords[strings.ToLower(input)]; !skip {
			f.Tone = input
		}
		f.Step = StepText
		return FlowResult{Event: EventAdvanced, Step: f.Step}

	case StepText:
		if input == "" {
			return FlowResult{Event: EventRejected, Step: f.Step}
		}
		req := SpeechRequest{
			Voice:   f.Voice,
			Emotion: f.Emotion,
			Tone:    f.Tone,
			Text:    input,
		}
		f.reset()
		return FlowResult{Event: EventCompleted, Step: StepIdle, Request: req}

	default:
		return FlowResult{Event: EventRejected, Step: f.Step}
	}
}

func matchOption(input string, options []string) (string, bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	for _, o := range options {
		if in == o {
			return o, true
		}
	}
	return "", false
}
