package worker

import "context"

type JobKind string

const (
	JobAnalyze   JobKind = "analyze"
	JobCharts    JobKind = "charts"
	JobSummarize JobKind = "summarize"
)

// Request describes one analysis job submitted to the dispatcher.
type Request struct {
	Context context.Context
	FileID  string // empty for ad-hoc payloads
	Kind    JobKind
	Rows    []map[string]any
	Columns []string
	Query   string
}

// Result carries the outcome back to the submitting handler.
type Result struct {
	Text        string
	Suggestions any
	Err         error
}

type Job struct {
	req  Request
	done chan Result
	stop bool // pool shutdown signal, never user-visible
}
