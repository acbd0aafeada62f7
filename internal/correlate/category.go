// Package correlate matches begin and end notifications into single
// logical agent invocations and attributes tool activity to the
// invocation that is current when it happens.
package correlate

import "github.com/agentwatch/agentwatch/pkg/models"

// phaseTable is an exact-membership classification of agent names.
// Names outside the table classify as unknown; new agents are not an
// error.
var phaseTable = map[string]models.Phase{
	"jira-analyst":             models.PhaseRequirements,
	"context-analyzer":         models.PhaseRequirements,
	"requirements-clarifier":   models.PhaseRequirements,
	"agent-discoverer":         models.PhasePlanning,
	"story-analyzer":           models.PhasePlanning,
	"architect":                models.PhasePlanning,
	"task-planner":             models.PhasePlanning,
	"backend-developer":        models.PhaseDevelopment,
	"frontend-developer":       models.PhaseDevelopment,
	"database-developer":       models.PhaseDevelopment,
	"test-developer":           models.PhaseDevelopment,
	"performance-reviewer":     models.PhaseReview,
	"security-reviewer":        models.PhaseReview,
	"maintainability-reviewer": models.PhaseReview,
	"test-validator":           models.PhaseReview,
	"documentation-generator":  models.PhaseFinalization,
	"changelog-writer":         models.PhaseFinalization,
	"pr-creator":               models.PhaseFinalization,
}

// ClassifyAgent maps an agent name to its workflow phase.
func ClassifyAgent(agentName string) models.Phase {
	if phase, ok := phaseTable[agentName]; ok {
		return phase
	}
	return models.PhaseUnknown
}
