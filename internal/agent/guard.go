// internal/agent/guard.go
package agent

import (
	"regexp"
)

// The fake-action guard catches replies that claim a completed side effect in
// a turn where no tool ran at all. The phrase list is deliberately narrow and
// not exhaustive: a miss costs a wrong claim slipping through, a false
// positive costs one extra model round trip.
var fakeActionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bI(?:'ve| have)\s+(?:just\s+|already\s+)?(?:booked|reserved|ordered|purchased|bought|submitted|sent|scheduled|cancell?ed|registered)\b`),
	regexp.MustCompile(`(?i)\bI\s+(?:just\s+|already\s+)?(?:booked|reserved|ordered|purchased|bought|submitted|sent|scheduled|cancell?ed|registered)\s`),
	regexp.MustCompile(`(?i)\bI(?:'m| am)\s+(?:now\s+)?(?:calling|dialing|texting)\b`),
	regexp.MustCompile(`(?i)\byour\s+(?:reservation|booking|order|appointment|purchase|request)\s+(?:is|has been)\s+(?:confirmed|placed|booked|made|submitted|completed)\b`),
	regexp.MustCompile(`(?i)\bthe\s+(?:call|text|message|email)\s+(?:is|was|has been)\s+(?:queued|sent|placed|made)\b`),
	regexp.MustCompile(`(?i)\b(?:successfully|has been)\s+(?:booked|reserved|ordered|purchased|submitted|sent|scheduled)\b`),
	regexp.MustCompile(`(?i)\bconfirmation\s+(?:number|code|email)\s+(?:is|has been sent)\b`),
}

// guardCorrection is injected as a user message when the guard trips. It
// forces the model to either actually perform the action or stop claiming it
// did.
const guardCorrection = "You stated that an action was completed, but no tools were invoked in this " +
	"conversation turn, so nothing actually happened. Either perform the action now using the " +
	"available tools, or rephrase your reply so it does not claim any completed action."

// claimsCompletedAction reports whether the reply text asserts a side effect.
func claimsCompletedAction(text string) bool {
	for _, re := range fakeActionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
