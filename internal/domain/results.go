package domain

// CycleSummary is the structured outcome of one overdue scan cycle. The
// scanner always produces one; a fully failed cycle is distinguishable from
// a zero-overdue cycle by Success plus Message.
type CycleSummary struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	Data         []TaskRef `json:"data"`
	SuccessCount int       `json:"success_count"`
	FailCount    int       `json:"fail_count"`
}

// Result is the value a handler reports back to the dispatcher. A handler
// returning Success=false without an error has settled the job itself: the
// failure is reported, not retried.
type Result struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Message   string `json:"message,omitempty"`
}
