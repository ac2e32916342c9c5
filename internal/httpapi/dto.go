// Package httpapi implements the REST-ish surfaces of §6 that sit alongside
// the JSON-RPC endpoint: task hydration, cancellation, SSE progress
// streaming, and screenshot static-file serving. None of the store package's
// own types carry JSON tags (they're the Task Store's internal shape), so
// this package translates to wire-level DTOs at the boundary, the same
// pattern internal/rpcserver uses for its own types.
package httpapi

import (
	"time"

	"github.com/browsecore/browseserver/internal/store"
)

type taskDTO struct {
	TaskID               string     `json:"task_id"`
	ToolName             string     `json:"tool_name"`
	Status               string     `json:"status"`
	MaxSteps             int        `json:"max_steps"`
	ExecutionMode        string     `json:"execution_mode"`
	AllowEarlyCompletion bool       `json:"allow_early_completion"`
	CurrentStep          int        `json:"current_step"`
	TotalStepsPlanned    int        `json:"total_steps_planned"`
	CreatedAt            time.Time  `json:"created_at"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	ResultSummary        string     `json:"result_summary,omitempty"`
	ErrorKind            string     `json:"error_kind,omitempty"`
	Steps                []stepDTO  `json:"steps"`
	Artifacts            []artifact `json:"artifacts"`
}

type stepDTO struct {
	StepNumber  int                `json:"step_number"`
	Description string             `json:"description"`
	Status      string             `json:"status"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	EndedAt     *time.Time         `json:"ended_at,omitempty"`
	Confidence  float64            `json:"confidence"`
	ResultText  string             `json:"result_text,omitempty"`
	State       store.BrowserState `json:"state"`
}

type artifact struct {
	ArtifactID   string  `json:"artifact_id"`
	StepNumber   *int    `json:"step_number,omitempty"`
	Kind         string  `json:"kind"`
	PublicURL    string  `json:"public_url"`
	Bytes        int     `json:"bytes"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	QualityScore float64 `json:"quality_score,omitempty"`
}

func toTaskDTO(detail store.TaskDetail) taskDTO {
	steps := make([]stepDTO, 0, len(detail.Steps))
	for _, s := range detail.Steps {
		steps = append(steps, stepDTO{
			StepNumber:  s.StepNumber,
			Description: s.Description,
			Status:      string(s.Status),
			StartedAt:   s.StartedAt,
			EndedAt:     s.EndedAt,
			Confidence:  s.Confidence,
			ResultText:  s.ResultText,
			State:       s.State,
		})
	}

	artifacts := make([]artifact, 0, len(detail.Artifacts))
	for _, a := range detail.Artifacts {
		artifacts = append(artifacts, artifact{
			ArtifactID:   a.ArtifactID,
			StepNumber:   a.StepNumber,
			Kind:         string(a.Kind),
			PublicURL:    a.PublicURL,
			Bytes:        a.Bytes,
			Width:        a.Width,
			Height:       a.Height,
			QualityScore: a.QualityScore,
		})
	}

	t := detail.Task
	return taskDTO{
		TaskID:               t.TaskID,
		ToolName:             t.ToolName,
		Status:               string(t.Status),
		MaxSteps:             t.MaxSteps,
		ExecutionMode:        string(t.ExecutionMode),
		AllowEarlyCompletion: t.AllowEarlyCompletion,
		CurrentStep:          t.CurrentStep,
		TotalStepsPlanned:    t.TotalStepsPlanned,
		CreatedAt:            t.CreatedAt,
		StartedAt:            t.StartedAt,
		EndedAt:              t.EndedAt,
		ResultSummary:        t.ResultSummary,
		ErrorKind:            t.ErrorKind,
		Steps:                steps,
		Artifacts:            artifacts,
	}
}
