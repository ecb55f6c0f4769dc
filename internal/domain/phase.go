package domain

import "fmt"

// Phase is the client-side view of where a project is in its lifecycle.
type Phase int

const (
	PhaseInput Phase = iota
	PhaseProcessing
	PhasePreview
	PhaseGenerating
	PhaseCompleted
	PhaseFailed
)

var phaseNames = [...]string{
	"input", "processing", "preview", "generating", "completed", "failed",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// AcceptsEvents reports whether server status events can still move the
// client out of this phase.
func (p Phase) AcceptsEvents() bool {
	return p == PhaseProcessing || p == PhasePreview || p == PhaseGenerating
}

// PhaseForStatus maps a server status onto the phase it moves the client to.
// The second result is false for statuses the client does not understand.
func PhaseForStatus(s ProjectStatus) (Phase, bool) {
	switch s {
	case ProjectPending, ProjectProcessing:
		return PhaseProcessing, true
	case ProjectDraftReady:
		return PhasePreview, true
	case ProjectGeneratingVideo:
		return PhaseGenerating, true
	case ProjectCompleted:
		return PhaseCompleted, true
	case ProjectFailed:
		return PhaseFailed, true
	default:
		return PhaseInput, false
	}
}
