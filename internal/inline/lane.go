package inline

import "strings"

// Lane is a priority band for a queued command. Lower value means higher
// priority; the ordering is used both for dequeue selection and display.
type Lane int

const (
	LaneSystem Lane = iota
	LaneApproval
	LaneControl
	LaneUserInput
)

// String returns the display name of a lane.
func (l Lane) String() string {
	switch l {
	case LaneSystem:
		return "system"
	case LaneApproval:
		return "approval"
	case LaneControl:
		return "control"
	case LaneUserInput:
		return "user_input"
	default:
		return "unknown"
	}
}

var systemPhrases = map[string]bool{
	"/help": true, "/version": true, "/tools": true,
	"/ping": true, "/model": true, "/status": true,
}

var approvalPhrases = map[string]bool{
	"yes": true, "y": true, "no": true, "n": true, "always": true,
}

// ClassifyLane maps raw content to a priority lane. It is a pure function,
// independent of any parser configuration.
func ClassifyLane(content string) Lane {
	trimmed := strings.ToLower(strings.TrimSpace(content))

	if systemPhrases[trimmed] {
		return LaneSystem
	}
	if approvalPhrases[trimmed] {
		return LaneApproval
	}
	if strings.HasPrefix(trimmed, "/") {
		return LaneControl
	}
	return LaneUserInput
}
