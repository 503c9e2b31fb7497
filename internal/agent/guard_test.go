// internal/agent/guard_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaimsCompletedAction(t *testing.T) {
	positive := []string{
		"I've booked a table for two at 7pm tomorrow.",
		"I have just submitted the form with your details.",
		"Done! I ordered the flowers for Saturday delivery.",
		"Your reservation is confirmed for Friday evening.",
		"Your order has been placed and will arrive Tuesday.",
		"The tickets were successfully booked under your name.",
		"I scheduled the appointment for 3pm.",
		"I cancelled your previous booking as requested.",
		"I've already sent that email for you.",
		"I'm calling the restaurant now to ask about a table.",
		"The text was sent to the number you gave me.",
	}
	for _, text := range positive {
		assert.True(t, claimsCompletedAction(text), "should flag: %q", text)
	}

	negative := []string{
		"I can book a table for you, shall I go ahead?",
		"Would you like me to order those flowers?",
		"To make a reservation, you can visit their website.",
		"Here are three restaurants with availability tomorrow.",
		"The booking page requires a phone number; what should I enter?",
		"I found the order form but it needs your confirmation first.",
	}
	for _, text := range negative {
		assert.False(t, claimsCompletedAction(text), "should not flag: %q", text)
	}
}
