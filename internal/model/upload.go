package model

// UploadAudioResponse represents the response after storing an uploaded file
type UploadAudioResponse struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	ObjectName  string `json:"object_name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}
