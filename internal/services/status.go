package services

import "github.com/mzxrai/memva-sub002/internal/db/models"

// StatusApprovalRequested is the display status shown while a processing
// session has permission requests awaiting a decision. It exists only as a
// read-time projection and is never persisted.
const StatusApprovalRequested = "approval_requested"

// ProjectStatus derives the display status for a session from its
// agent-reported status and its count of pending permission requests. Pure
// function; it mutates nothing.
func ProjectStatus(claudeStatus models.ClaudeStatus, pendingPermissions int64) string {
	if claudeStatus == models.ClaudeStatusProcessing && pendingPermissions > 0 {
		return StatusApprovalRequested
	}
	return claudeStatus.String()
}
