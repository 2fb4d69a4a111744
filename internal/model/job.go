package model

import "time"

// Job represents a stem separation job owned by the splitter
type Job struct {
	ID              string      `json:"id"`
	Status          JobStatus   `json:"status"`
	Progress        int         `json:"progress"`
	SourceReference string      `json:"source_reference"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	ResultArtifacts []Artifact  `json:"result_artifacts,omitempty"`
	Error           string      `json:"error,omitempty"`
	StoreConfig     StoreConfig `json:"-"`
}

// Artifact is one uploaded output of a completed job
type Artifact struct {
	Name        string `json:"name"`
	Reference   string `json:"reference"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url,omitempty"`
}

// StoreConfig holds connection parameters for a destination object store.
// It is captured at submission because the pipeline may target a store
// other than the splitter's own.
type StoreConfig struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	AccessKey string `json:"access_key" validate:"required"`
	SecretKey string `json:"secret_key" validate:"required"`
	Container string `json:"container" validate:"required"`
	Secure    bool   `json:"secure"`
}

// IsTerminal reports whether the job reached a state it never leaves.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	if j.ResultArtifacts != nil {
		c.ResultArtifacts = make([]Artifact, len(j.ResultArtifacts))
		copy(c.ResultArtifacts, j.ResultArtifacts)
	}
	return &c
}

// Age returns how long ago the job was created relative to now.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}
