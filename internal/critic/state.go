package critic

import (
	"regexp"
	"strings"
)

// State is a critic state.
type State int

const (
	StateIdle State = iota
	StateEvaluating
	StateSafe
	StateFlagged
	StateAwaiting
	StateReversing
	StateConfirmed
	StateTimedOut
)

var stateNames = [...]string{
	StateIdle:       "IDLE",
	StateEvaluating: "EVALUATING",
	StateSafe:       "SAFE",
	StateFlagged:    "FLAGGED",
	StateAwaiting:   "AWAITING_RESPONSE",
	StateReversing:  "REVERSING",
	StateConfirmed:  "CONFIRMED",
	StateTimedOut:   "TIMED_OUT",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Transition describes one state change.
type Transition struct {
	From      State
	To        State
	Seq       int64
	PendingID string
}

// Response is a human reply to an anomaly warning.
type Response int

const (
	ResponseNone Response = iota
	ResponseReverse
	ResponseConfirm
)

const (
	reverseMarker = "❌"
	confirmMarker = "👍"
)

var (
	reverseWords = regexp.MustCompile(`(?i)\b(reverse|undo)\b`)
	confirmWords = regexp.MustCompile(`(?i)\b(intentional|correct)\b`)
)

// ClassifyResponse maps a reply to a response. Reversal wins when a reply
// carries both.
func ClassifyResponse(text string) Response {
	switch {
	case strings.Contains(text, reverseMarker) || reverseWords.MatchString(text):
		return ResponseReverse
	case strings.Contains(text, confirmMarker) || confirmWords.MatchString(text):
		return ResponseConfirm
	default:
		return ResponseNone
	}
}
