package domain

import "time"

type InputFileRef struct {
	S3URI    string `json:"s3_uri" binding:"required"`
	FileType string `json:"file_type"`
}

// JobPayload is the immutable work item placed on the queue: a value
// snapshot of the creation-time inputs. It never carries mutable state.
type JobPayload struct {
	TaskID       string         `json:"taskId"`
	ProjectID    string         `json:"projectId"`
	ProjectType  string         `json:"projectType"`
	HazardClass  string         `json:"hazardClass"`
	InputFiles   []InputFileRef `json:"inputFiles"`
	BuildingInfo map[string]any `json:"buildingInfo,omitempty"`
	WaterSupply  map[string]any `json:"waterSupply,omitempty"`
	Priority     string         `json:"priority,omitempty"`
}

type SubmitRequest struct {
	ProjectID    string         `json:"projectId" binding:"required"`
	ProjectType  string         `json:"projectType" binding:"required"`
	HazardClass  string         `json:"hazardClass" binding:"required"`
	InputFiles   []InputFileRef `json:"inputFiles" binding:"required,min=1,dive"`
	BuildingInfo map[string]any `json:"buildingInfo,omitempty"`
	WaterSupply  map[string]any `json:"waterSupply,omitempty"`
	Priority     string         `json:"priority,omitempty"`
}

type SubmitResponse struct {
	TaskID              string     `json:"taskId"`
	Status              TaskStatus `json:"status"`
	Message             string     `json:"message"`
	EstimatedCompletion time.Time  `json:"estimatedCompletion"`
}
