package agent

import (
	"fmt"
	"strings"

	"github.com/hydrantlabs/designq/pkg/domain"
)

// PipelineStages is the fixed execution plan embedded in every prompt. The
// agent reports progress against these stage numbers through the callback
// endpoints; the worker never advances the counter itself.
var PipelineStages = [domain.TotalPipelineSteps]string{
	"Parse input documents and extract building geometry",
	"Sync task status (stage counters, initial message)",
	"Voxelize building geometry for coverage analysis",
	"Route sprinkler branch lines and mains",
	"Initialize hydraulic model from the water supply",
	"Iterate hydraulic calculation to convergence",
	"Validate sprinkler spacing against the hazard class",
	"Validate fittings and pipe schedule",
	"Generate fabrication bill of materials",
	"Generate the design report",
	"Persist artifacts through the callback endpoint",
	"Finalize and report the design verdict",
}

// BuildPrompt renders the structured prompt for one design run. It embeds
// the task metadata, the input references, the stage plan, and the callback
// contract the agent must use for authoritative progress.
func BuildPrompt(payload *domain.JobPayload, callbackBaseURL string) string {
	var b strings.Builder

	b.WriteString("You are an automated fire-sprinkler design agent.\n\n")
	fmt.Fprintf(&b, "Task: %s\nProject: %s\nProject type: %s\nHazard classification: %s\n",
		payload.TaskID, payload.ProjectID, payload.ProjectType, payload.HazardClass)

	b.WriteString("\nInput documents:\n")
	for _, f := range payload.InputFiles {
		fmt.Fprintf(&b, "- %s (%s)\n", f.S3URI, f.FileType)
	}
	if len(payload.BuildingInfo) > 0 {
		b.WriteString("\nBuilding parameters:\n")
		writeParams(&b, payload.BuildingInfo)
	}
	if len(payload.WaterSupply) > 0 {
		b.WriteString("\nWater supply parameters:\n")
		writeParams(&b, payload.WaterSupply)
	}

	b.WriteString("\nExecute the following plan in order:\n")
	for i, stage := range PipelineStages {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, stage)
	}

	fmt.Fprintf(&b, "\nProgress reporting contract:\n")
	fmt.Fprintf(&b, "- After each stage POST %s/v1/designq/callbacks/status with "+
		"{taskId, currentStep, totalSteps:%d, message}.\n", callbackBaseURL, domain.TotalPipelineSteps)
	fmt.Fprintf(&b, "- Persist generated documents via POST %s/v1/designq/callbacks/artifacts "+
		"with {taskId, artifactType, content, filename}.\n", callbackBaseURL)
	b.WriteString("- On completion set trafficLight to GREEN, YELLOW, or RED per the design verdict.\n")
	b.WriteString("- On an unrecoverable error set status FAILED and trafficLight RED with a message.\n")

	return b.String()
}

func writeParams(b *strings.Builder, params map[string]any) {
	for k, v := range params {
		fmt.Fprintf(b, "- %s: %v\n", k, v)
	}
}
