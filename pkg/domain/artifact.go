package domain

import "time"

const (
	ArtifactTypePDF = "pdf"
	ArtifactTypeBOM = "bom"
)

// ArtifactRecord is write-once per (taskId, artifactType); re-saving the
// same pair replaces the reference but prior blobs are never deleted.
type ArtifactRecord struct {
	TaskID       string    `json:"taskId"`
	ArtifactType string    `json:"artifactType"`
	StoreKey     string    `json:"storeKey"`
	ContentType  string    `json:"contentType,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UpdateStatusRequest is the mid-run callback body sent by the agent.
// Omitted fields leave the record untouched.
type UpdateStatusRequest struct {
	TaskID       string        `json:"taskId" binding:"required"`
	Status       *TaskStatus   `json:"status,omitempty"`
	TrafficLight *TrafficLight `json:"trafficLight,omitempty"`
	CurrentStep  *int          `json:"currentStep,omitempty"`
	TotalSteps   *int          `json:"totalSteps,omitempty"`
	Message      *string       `json:"message,omitempty"`
	PDFURL       *string       `json:"pdfUrl,omitempty"`
}

type UpdateStatusResponse struct {
	Success   bool       `json:"success"`
	TaskID    string     `json:"taskId"`
	Status    TaskStatus `json:"status"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type SaveArtifactRequest struct {
	TaskID       string `json:"taskId" binding:"required"`
	ArtifactType string `json:"artifactType" binding:"required"`
	Content      string `json:"content" binding:"required"`
	// Encoding "base64" marks Content as base64; anything else is stored
	// byte for byte.
	Encoding    string `json:"encoding,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

type SaveArtifactResponse struct {
	Success      bool   `json:"success"`
	ArtifactRef  string `json:"artifactRef"`
	ArtifactType string `json:"artifactType"`
}
