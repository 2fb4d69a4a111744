package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Stem names produced by the separation model
const (
	StemDrums  = "drums"
	StemBass   = "bass"
	StemVocals = "vocals"
	StemOther  = "other"

	// StemResidual is the synthesized "everything else" track.
	StemResidual = "ee"

	// ArtifactBundle is the reserved artifact name of the zipped stem set.
	ArtifactBundle = "zip"
)

// ForegroundStems are summed and phase-cancelled against the original to
// build the residual track.
var ForegroundStems = []string{StemDrums, StemBass, StemVocals}

// Package formats
type PackageFormat string

const (
	PackageFormatWAV PackageFormat = "wav"
	PackageFormatMP3 PackageFormat = "mp3"
)
