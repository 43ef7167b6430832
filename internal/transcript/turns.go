package transcript

import (
	"fmt"
	"regexp"
	"time"
)

// MaxTurns is how many logical turns survive trimming. A turn is a user
// message plus everything up to the next user message.
const MaxTurns = 10

// trimSampleLen is how much of the last dropped user text the synthetic
// trim marker quotes.
const trimSampleLen = 100

// headerPattern matches the "[<timestamp> @<offset>] [<name>]: " prefix put
// on user messages mirrored from the channel log.
var headerPattern = regexp.MustCompile(`^\[[^\]]*\] \[[^\]]*\]: `)

// FormatHeader builds the timestamp-and-username prefix for a mirrored user
// message, using the server's local offset.
func FormatHeader(ts time.Time, name string) string {
	local := ts.Local()
	return fmt.Sprintf("[%s @%s] [%s]: ", local.Format(time.RFC3339), local.Format("-07:00"), name)
}

// StripHeader removes the mirrored-message prefix when present.
func StripHeader(text string) string {
	return headerPattern.ReplaceAllString(text, "")
}

// CountTurns returns the number of turns in msgs. Messages before the first
// user message belong to no turn and are not counted.
func CountTurns(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// TrimTurns keeps the last max turns of msgs. When anything is dropped the
// result is prefixed with a synthetic user message quoting the start of the
// last dropped user text (header stripped).
func TrimTurns(msgs []Message, max int) []Message {
	if CountTurns(msgs) <= max {
		return msgs
	}

	// Walk backwards to the user message that starts the oldest kept turn.
	seen := 0
	cut := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != RoleUser {
			continue
		}
		seen++
		if seen == max {
			cut = i
			break
		}
	}

	dropped := msgs[:cut]
	var lastUserText string
	for i := len(dropped) - 1; i >= 0; i-- {
		if dropped[i].Role == RoleUser {
			lastUserText = StripHeader(dropped[i].Text())
			break
		}
	}
	if r := []rune(lastUserText); len(r) > trimSampleLen {
		lastUserText = string(r[:trimSampleLen])
	}

	kept := msgs[cut:]
	out := make([]Message, 0, len(kept)+1)
	out = append(out, UserMessage(fmt.Sprintf("[Prior context trimmed. Last topic before trim: %s]", lastUserText)))
	out = append(out, kept...)
	return out
}
