// Package sandbox defines the contract with the isolated evaluation runner
// and ships a subprocess adapter that speaks it.
package sandbox

import "context"

// ProtocolVersion is the request envelope version sent to runners.
const ProtocolVersion = 1

// Request describes one evaluation run. Directories are absolute paths on
// the host; the runner mounts them as it sees fit.
type Request struct {
	Protocol          int    `json:"protocol"`
	RunID             string `json:"run_id"`
	UserSolutionDir   string `json:"user_solution_dir"`
	OrganizerFilesDir string `json:"organizer_files_dir"`
	OutputDir         string `json:"output_dir"`
	CPULimit          int    `json:"cpu_limit"`
	// MemoryLimit uses the "<MiB>m" notation, e.g. "512m".
	MemoryLimit    string `json:"memory_limit"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Result is exactly one of: an error, a timeout, or a score.
type Result struct {
	Error        string   `json:"error,omitempty"`
	TimedOut     bool     `json:"timed_out,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	ScoreComment string   `json:"score_comment,omitempty"`

	// Stderr is whatever the runner wrote to stderr, truncated.
	Stderr string `json:"-"`
}

type Kind int

const (
	KindInvalid Kind = iota
	KindError
	KindTimedOut
	KindSuccess
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "error"
	case KindTimedOut:
		return "timed_out"
	case KindSuccess:
		return "success"
	default:
		return "invalid"
	}
}

// Kind classifies the result. An error takes precedence over a timeout, and
// a timeout over a score.
func (r Result) Kind() Kind {
	switch {
	case r.Error != "":
		return KindError
	case r.TimedOut:
		return KindTimedOut
	case r.Score != nil:
		return KindSuccess
	default:
		return KindInvalid
	}
}

// Runner executes a sandboxed evaluation. Error, timeout and score outcomes
// are reported in Result; the returned error is reserved for failures to
// run at all.
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}
