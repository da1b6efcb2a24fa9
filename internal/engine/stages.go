package engine

// Case statuses. The first four double as stage names for the open task;
// APPROVED is terminal and has no task.
const (
	StageAnalyst     = "ANALYST"
	StageReviewer    = "REVIEWER"
	StageAFCReviewer = "AFC_REVIEWER"
	StageACOReviewer = "ACO_REVIEWER"
	StatusApproved   = "APPROVED"
)

var defaultStageOrder = []string{StageAnalyst, StageReviewer, StageAFCReviewer, StageACOReviewer}

var defaultCandidateGroups = map[string]string{
	StageAnalyst:     "kyc_analysts",
	StageReviewer:    "kyc_reviewers",
	StageAFCReviewer: "afc_reviewers",
	StageACOReviewer: "aco_reviewers",
}

var defaultStagePermissions = map[string]string{
	StageAnalyst:     "case.approve.stage1",
	StageReviewer:    "case.approve.stage2",
	StageAFCReviewer: "case.approve.stage3",
	StageACOReviewer: "case.approve.stage4",
}

func (e Engine) stageOrder() []string {
	if e.Config != nil && len(e.Config.Workflow.Order) > 0 {
		return e.Config.Workflow.Order
	}
	return defaultStageOrder
}

// CandidateGroup returns the group whose members may claim tasks at the stage.
func (e Engine) CandidateGroup(stage string) string {
	if e.Config != nil {
		if def, ok := e.Config.Workflow.Stages[stage]; ok && def.CandidateGroup != "" {
			return def.CandidateGroup
		}
	}
	return defaultCandidateGroups[stage]
}

// StagePermission returns the permission needed to approve at the stage.
func (e Engine) StagePermission(stage string) string {
	if e.Config != nil {
		if def, ok := e.Config.Workflow.Stages[stage]; ok && def.Permission != "" {
			return def.Permission
		}
	}
	return defaultStagePermissions[stage]
}

// NextStage returns the stage after the given one, or APPROVED past the
// last review stage. Unknown stages return empty.
func (e Engine) NextStage(stage string) string {
	order := e.stageOrder()
	for i, s := range order {
		if s != stage {
			continue
		}
		if i+1 < len(order) {
			return order[i+1]
		}
		return StatusApproved
	}
	return ""
}

// ValidStage reports whether the name is a known review stage.
func (e Engine) ValidStage(stage string) bool {
	for _, s := range e.stageOrder() {
		if s == stage {
			return true
		}
	}
	return false
}
