package model

import "time"

// Run is the report of one fixture update.
// It is filled in step by step as the pipeline executes and is the unit
// written by report writers and stored in the history database.
type Run struct {
	// Channel is the release track the image was prepared from.
	Channel string `json:"channel"`

	// ModelPath names the model assertion in reports and history. It is
	// the file path, or a label for the bundled model.
	ModelPath string `json:"model_path"`

	// ModelFile is the file handed to the preparation command.
	ModelFile string `json:"-"`

	// Brand and Model identify the device described by the model assertion.
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`

	// Architecture is the architecture header of the model assertion.
	Architecture string `json:"architecture,omitempty"`

	// Digest is the hex SHA-256 of the model bytes followed by the channel.
	Digest string `json:"digest"`

	// OutputPath is the fixture archive path.
	OutputPath string `json:"output_path"`

	// RootDir and UnpackDir are the prepared trees. They only outlive the
	// run when the working directories are kept.
	RootDir   string `json:"root_dir,omitempty"`
	UnpackDir string `json:"unpack_dir,omitempty"`

	// Cached is true when the prepared trees came from the result cache
	// instead of a fresh command invocation.
	Cached bool `json:"cached"`

	// Manifest lists the archive entries. Nil until the archive step runs.
	Manifest *Manifest `json:"manifest,omitempty"`

	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// PerformedSteps lists the pipeline steps that ran, in order.
	PerformedSteps []string `json:"performed_steps"`

	// Error holds the failure of the run, if any.
	Error error `json:"-"`

	// ErrorMessage is the string form of Error for serialization.
	ErrorMessage string `json:"error,omitempty"`

	// Cancelled is true when the run stopped because its context ended.
	Cancelled bool `json:"cancelled,omitempty"`
}

// NewRun creates a Run for the given channel.
func NewRun(channel string) *Run {
	return &Run{
		Channel:        channel,
		StartedAt:      time.Now(),
		PerformedSteps: make([]string, 0),
	}
}

// Failed reports whether the run recorded an error.
func (r *Run) Failed() bool {
	return r.Error != nil || r.ErrorMessage != ""
}

// Duration returns the wall time of the run. It is zero until FinishedAt is set.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status returns a short human-readable status.
func (r *Run) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Failed():
		return "failed"
	case r.Manifest == nil:
		return "incomplete"
	default:
		return "complete"
	}
}
