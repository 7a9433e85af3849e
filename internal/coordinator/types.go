// Package coordinator contains the data model and HTTP client for talking
// to the central test coordinator (spec §3, §6). The coordinator itself,
// its database and web UI are out of scope; only the JSON shapes below
// matter.
package coordinator

// Stats is the statistics block reported back to the coordinator (spec
// §3 "Statistics block"). The invariant 2*sum(Pentanomial) ==
// Wins+Losses+Draws must hold after every update.
type Stats struct {
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
	Crashes     int    `json:"crashes"`
	TimeLosses  int    `json:"time_losses"`
	Pentanomial [5]int `json:"pentanomial"`
}

// TotalGames returns Wins+Losses+Draws.
func (s Stats) TotalGames() int { return s.Wins + s.Losses + s.Draws }

// Valid reports whether the pentanomial invariant holds.
func (s Stats) Valid() bool {
	sum := 0
	for _, p := range s.Pentanomial {
		sum += p
	}
	return 2*sum == s.TotalGames()
}

// Add returns the element-wise sum of two stats blocks. Used by the batch
// commit algorithm (§4.C7) to add freshly-parsed deltas onto the baseline
// captured at supervisor entry -- never onto the live running values.
func (s Stats) Add(delta Stats) Stats {
	out := Stats{
		Wins:       s.Wins + delta.Wins,
		Losses:     s.Losses + delta.Losses,
		Draws:      s.Draws + delta.Draws,
		Crashes:    s.Crashes + delta.Crashes,
		TimeLosses: s.TimeLosses + delta.TimeLosses,
	}
	for i := range out.Pentanomial {
		out.Pentanomial[i] = s.Pentanomial[i] + delta.Pentanomial[i]
	}
	return out
}

// SPSAParam is a single {name, value} pair returned by request_spsa.
type SPSAParam struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SPSABatchResult is the per-batch SPSA win/loss/draw delta reported
// alongside the cumulative Stats, distinct from it (spec SUPPLEMENTED
// FEATURES).
type SPSABatchResult struct {
	NumGames int `json:"num_games"`
	Wins     int `json:"wins"`
	Losses   int `json:"losses"`
	Draws    int `json:"draws"`
}

// SPRTParams describes the sequential probability ratio test parameters
// that influence batch sizing; the test itself is not implemented here
// (spec GLOSSARY: SPRT "not implemented in core").
type SPRTParams struct {
	BatchSize int `json:"batch_size"`
}

// Task is the unit of work pulled from the coordinator (spec §3 "Task").
type Task struct {
	RunID    string `json:"run_id"`
	TaskID   int    `json:"task_id"`
	NumGames int    `json:"num_games"`

	New  string `json:"resolved_new"`
	Base string `json:"resolved_base"`

	NewSignature  int64 `json:"new_signature"`
	BaseSignature int64 `json:"base_signature"`

	NewOptions  string `json:"new_options"`
	BaseOptions string `json:"base_options"`

	NewTag  string `json:"new_tag"`
	BaseTag string `json:"base_tag"`

	Book      string `json:"book"`
	BookDepth int    `json:"book_depth"`

	Threads int    `json:"threads"`
	TC      string `json:"tc"`
	NewTC   string `json:"new_tc,omitempty"`

	TestsRepo string `json:"tests_repo"`

	SPRT          *SPRTParams `json:"sprt,omitempty"`
	SPSA          bool        `json:"spsa"`
	Datagen       bool        `json:"datagen"`
	Adjudication  *bool       `json:"adjudication,omitempty"`
	Nodes         int64       `json:"nodes,omitempty"`

	// Start is the optional variable-task opening offset; nil means
	// "derive it from TaskID*NumGames" (spec §3).
	Start *int `json:"start,omitempty"`

	// Stats is the already-accumulated resumption state for this task.
	Stats Stats `json:"stats"`
}

// AdjudicationEnabled returns the effective adjudication flag, defaulting
// to true when the coordinator didn't specify one.
func (t *Task) AdjudicationEnabled() bool {
	return t.Adjudication == nil || *t.Adjudication
}

// RemainingGames returns NumGames minus the games already reflected in
// Stats. Spec invariant: this must be even and positive for a match task.
func (t *Task) RemainingGames() int {
	return t.NumGames - t.Stats.TotalGames()
}

// WorkerInfo identifies this worker instance to the coordinator.
type WorkerInfo struct {
	UniqueKey   string  `json:"unique_key"`
	Concurrency int     `json:"concurrency"`
	NPS         float64 `json:"nps,omitempty"`
}

// UpdateTaskRequest is the body of POST /api/update_task.
type UpdateTaskRequest struct {
	Password   string           `json:"password"`
	RunID      string           `json:"run_id"`
	TaskID     int              `json:"task_id"`
	Stats      Stats            `json:"stats"`
	WorkerInfo WorkerInfo       `json:"worker_info"`
	SPSA       *SPSABatchResult `json:"spsa,omitempty"`
}

// UpdateTaskResponse is the reply to POST /api/update_task.
type UpdateTaskResponse struct {
	TaskAlive bool   `json:"task_alive"`
	Duration  float64 `json:"duration"`
	Error     string `json:"error,omitempty"`
	Info      string `json:"info,omitempty"`
}

// RequestSPSARequest is the body of POST /api/request_spsa; it carries the
// same envelope as an update_task call.
type RequestSPSARequest = UpdateTaskRequest

// RequestSPSAResponse is the reply to POST /api/request_spsa.
type RequestSPSAResponse struct {
	TaskAlive bool        `json:"task_alive"`
	WParams   []SPSAParam `json:"w_params"`
	BParams   []SPSAParam `json:"b_params"`
	Error     string      `json:"error,omitempty"`
}
