package handlers

// StatusUpdatePayload is the wire shape of a status-update job.
type StatusUpdatePayload struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
}

// OverdueNotificationPayload is the wire shape of an overdue-notification
// job. The handler re-queries the overdue set fresh, so the payload is
// informational only.
type OverdueNotificationPayload struct {
	TaskID string `json:"taskId"`
}
