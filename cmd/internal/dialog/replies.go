package dialog

import "muse/cmd/internal/session"

// User-facing reply text. Access and authorization failures get specific,
// actionable wording; capability failures share one generic apology so no
// provider detail can leak.
const (
	msgAccessDenied  = "You don't have access yet. Redeem an invitation link with /start <token>."
	msgAccessExpired = "Your access has expired. Ask an admin for a new invitation link."
	msgApology       = "Sorry, something went wrong while handling your request."
	msgEmptyPrompt   = "Tell me what to draw after the trigger word."
	msgEmptyTopic    = "Give me a topic for the dialogue."
	msgCancelled     = "Okay, cancelled."
	msgNothingCancel = "There is nothing to cancel."
	msgNotAChoice    = "That's not one of the options. "
)

func promptFor(step session.Step) string {
	switch step {
	case session.StepVoice:
		return "Pick a voice: alloy, echo, fable, onyx, nova, shimmer."
	case session.StepEmotion:
		return "Pick an emotion: neutral, joyful, sad, angry, calm, excited."
	case session.StepTone:
		return "Describe the tone of delivery, or answer \"no\" to skip."
	case session.StepText:
		return "Send the text you want spoken."
	default:
		return ""
	}
}
