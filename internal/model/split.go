package model

// SplitRequest is the job submission payload accepted by the splitter
type SplitRequest struct {
	SourceReference  string       `json:"source_reference" validate:"required"`
	DestinationStore *StoreConfig `json:"destination_store" validate:"required"`
}

// SplitSubmitResponse is returned once a job has been queued
type SplitSubmitResponse struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// GatewaySplitRequest is the caller-facing request to split an uploaded file
type GatewaySplitRequest struct {
	ObjectName string `json:"object_name" validate:"required"`
}

// GatewaySplitResponse is returned by the gateway after forwarding a job
type GatewaySplitResponse struct {
	Success bool      `json:"success"`
	Status  JobStatus `json:"status"`
	JobID   string    `json:"job_id"`
	Message string    `json:"message"`
}
