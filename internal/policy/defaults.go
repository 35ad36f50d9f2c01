package policy

// defaultPolicy is the built-in review policy, used when no policy file is
// configured.
func defaultPolicy() policyFile {
	return policyFile{
		AdminRoles: []string{"ADMIN", "WORKFLOW_ADMIN"},
		StageAdvanceRoles: map[string][]string{
			"DRAFT_CREATION":        {"OPR", "AUTHOR", "ADMIN", "WORKFLOW_ADMIN"},
			"INTERNAL_COORDINATION": {"ICU_REVIEWER", "TECHNICAL_REVIEWER", "ADMIN", "WORKFLOW_ADMIN"},
			"OPR_REVISIONS":         {"OPR", "AUTHOR", "ADMIN", "WORKFLOW_ADMIN"},
			"EXTERNAL_COORDINATION": {"TECHNICAL_REVIEWER", "ADMIN", "WORKFLOW_ADMIN"},
			"OPR_FINAL":             {"OPR", "AUTHOR", "ADMIN", "WORKFLOW_ADMIN"},
			"LEGAL_REVIEW":          {"LEGAL_REVIEWER", "ADMIN", "WORKFLOW_ADMIN"},
			"OPR_LEGAL":             {"OPR", "AUTHOR", "ADMIN", "WORKFLOW_ADMIN"},
			"FINAL_PUBLISHING":      {"PUBLISHER", "ADMIN", "WORKFLOW_ADMIN"},
		},
		// Backward moves may only target declared strictly earlier stages.
		BackwardTransitions: map[string][]string{
			"INTERNAL_COORDINATION": {"DRAFT_CREATION"},
			"OPR_REVISIONS":         {"INTERNAL_COORDINATION", "DRAFT_CREATION"},
			"EXTERNAL_COORDINATION": {"OPR_REVISIONS", "INTERNAL_COORDINATION"},
			"OPR_FINAL":             {"EXTERNAL_COORDINATION", "OPR_REVISIONS"},
			"LEGAL_REVIEW":          {"OPR_FINAL", "EXTERNAL_COORDINATION"},
			"OPR_LEGAL":             {"LEGAL_REVIEW", "OPR_FINAL"},
			"FINAL_PUBLISHING":      {"OPR_LEGAL", "LEGAL_REVIEW"},
		},
		StageActions: map[string]map[string][]string{
			"DRAFT_CREATION": {
				"OPR":    {"submit_for_coordination", "save_draft", "edit_content"},
				"AUTHOR": {"submit_for_coordination", "save_draft", "edit_content"},
			},
			"INTERNAL_COORDINATION": {
				"ICU_REVIEWER":       {"approve", "reject", "add_comments", "request_changes"},
				"TECHNICAL_REVIEWER": {"approve", "reject", "add_comments", "request_changes"},
			},
			"EXTERNAL_COORDINATION": {
				"TECHNICAL_REVIEWER": {"final_review", "request_changes", "add_comments"},
			},
			"LEGAL_REVIEW": {
				"LEGAL_REVIEWER": {"legal_approve", "legal_reject", "add_legal_comments"},
			},
			"FINAL_PUBLISHING": {
				"PUBLISHER": {"publish", "schedule_publish", "add_publishing_notes"},
			},
		},
		StageNames: map[string]string{
			"1":   "Initial Draft Creation",
			"2":   "PCM Review",
			"3":   "Initial Coordination - Distribution Phase",
			"3.5": "Review Collection Phase",
			"4":   "OPR Feedback Incorporation & Draft Creation",
			"5":   "Second Coordination - Distribution Phase",
			"5.5": "Second Review Collection Phase",
			"6":   "OPR Second Feedback Incorporation",
			"7":   "Legal Review",
			"8":   "Post-Legal OPR Update",
			"9":   "Leadership Review & Decision",
			"10":  "AFDPO Processing",
			"11":  "Records Management",
			"12":  "Workflow Completion",
		},
	}
}
