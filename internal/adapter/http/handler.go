package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/onboardiq/internal/app"
	"github.com/neomorfeo/onboardiq/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z"

// StepResponse is the API representation of a process step.
type StepResponse struct {
	ID        string `json:"id" doc:"Unique identifier"`
	StepType  string `json:"step_type" doc:"Kind of work this step performs"`
	Status    string `json:"status" doc:"Lifecycle state"`
	Message   string `json:"message,omitempty" doc:"Failure detail when status is FAILED"`
	CreatedAt string `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	UpdatedAt string `json:"updated_at" doc:"Last update timestamp (ISO 8601)"`
}

func toStepResponse(s domain.ProcessStep) StepResponse {
	return StepResponse{
		ID:        s.ID,
		StepType:  string(s.Type),
		Status:    string(s.Status),
		Message:   s.Message,
		CreatedAt: s.CreatedAt.Format(timeFormat),
		UpdatedAt: s.UpdatedAt.Format(timeFormat),
	}
}

// ProcessResponse is the API representation of a process with its steps.
type ProcessResponse struct {
	ID          string         `json:"id" doc:"Unique identifier"`
	ProcessType string         `json:"process_type" doc:"Which executor owns the process"`
	Terminal    bool           `json:"terminal" doc:"True when no step is outstanding"`
	CreatedAt   string         `json:"created_at" doc:"Creation timestamp (ISO 8601)"`
	Steps       []StepResponse `json:"steps" doc:"All steps, oldest first"`
}

// EntryResponse is the API representation of a checklist entry.
type EntryResponse struct {
	EntryType       string   `json:"entry_type" doc:"Checklist aspect"`
	Status          string   `json:"status" doc:"Lifecycle state"`
	Comment         string   `json:"comment,omitempty" doc:"Failure detail when status is FAILED"`
	RetriggerableBy []string `json:"retriggerable_by,omitempty" doc:"Manual retrigger steps currently valid for this entry"`
}

func toEntryResponse(v app.EntryView) EntryResponse {
	resp := EntryResponse{
		EntryType: string(v.Entry.Type),
		Status:    string(v.Entry.Status),
		Comment:   v.Entry.Comment,
	}
	for _, typ := range v.RetriggerableBy {
		resp.RetriggerableBy = append(resp.RetriggerableBy, string(typ))
	}
	return resp
}

// --- Enter checklist phase ---

type CreateApplicationInput struct {
	Body struct {
		ApplicationID string `json:"application_id" minLength:"1" maxLength:"100" doc:"Portal application identifier"`
	}
}

type CreateApplicationOutput struct {
	Body struct {
		ApplicationID string `json:"application_id" doc:"Portal application identifier"`
		ProcessID     string `json:"process_id" doc:"Orchestration process driving the application"`
	}
}

// --- Get checklist ---

type GetChecklistInput struct {
	ID string `path:"id" doc:"Application ID"`
}

type GetChecklistOutput struct {
	Body struct {
		ApplicationID string          `json:"application_id"`
		Entries       []EntryResponse `json:"entries"`
	}
}

// --- Retrigger ---

type RetriggerInput struct {
	ID        string `path:"id" doc:"Application ID"`
	EntryType string `path:"entryType" doc:"Checklist entry to retrigger"`
	Body      struct {
		StepType string `json:"step_type" minLength:"1" doc:"Manual retrigger step to run"`
	}
}

type RetriggerOutput struct{}

// --- Get process ---

type GetProcessInput struct {
	ID string `path:"id" doc:"Process ID"`
}

type GetProcessOutput struct {
	Body ProcessResponse
}

// Register adds all onboarding API routes to the Huma API.
func Register(api huma.API, processes *app.ProcessService, checklists *app.ChecklistService) {
	huma.Register(api, huma.Operation{
		OperationID: "create-application",
		Method:      http.MethodPost,
		Path:        "/api/v1/applications",
		Summary:     "Enter the checklist phase for an application",
		Tags:        []string{"Applications"},
	}, func(ctx context.Context, input *CreateApplicationInput) (*CreateApplicationOutput, error) {
		application, err := processes.EnterChecklistPhase(ctx, input.Body.ApplicationID)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &CreateApplicationOutput{}
		out.Body.ApplicationID = application.ID
		out.Body.ProcessID = application.ProcessID
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/api/v1/applications/{id}/checklist",
		Summary:     "Get the onboarding checklist of an application",
		Tags:        []string{"Applications"},
	}, func(ctx context.Context, input *GetChecklistInput) (*GetChecklistOutput, error) {
		views, err := checklists.GetChecklist(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		out := &GetChecklistOutput{}
		out.Body.ApplicationID = input.ID
		out.Body.Entries = make([]EntryResponse, len(views))
		for i, v := range views {
			out.Body.Entries[i] = toEntryResponse(v)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "retrigger-checklist-step",
		Method:        http.MethodPost,
		Path:          "/api/v1/applications/{id}/checklist/{entryType}/retrigger",
		Summary:       "Retrigger a failed checklist step",
		Tags:          []string{"Applications"},
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *RetriggerInput) (*RetriggerOutput, error) {
		err := checklists.RetriggerStep(ctx, input.ID,
			domain.EntryType(input.EntryType), domain.StepType(input.Body.StepType))
		if err != nil {
			return nil, toHumaError(err)
		}
		return &RetriggerOutput{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/api/v1/processes/{id}",
		Summary:     "Get a process with its steps and derived terminality",
		Tags:        []string{"Processes"},
	}, func(ctx context.Context, input *GetProcessInput) (*GetProcessOutput, error) {
		status, err := processes.GetProcessStatus(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp := ProcessResponse{
			ID:          status.Process.ID,
			ProcessType: string(status.Process.Type),
			Terminal:    status.Terminal,
			CreatedAt:   status.Process.CreatedAt.Format(timeFormat),
			Steps:       make([]StepResponse, len(status.Steps)),
		}
		for i, s := range status.Steps {
			resp.Steps[i] = toStepResponse(s)
		}
		return &GetProcessOutput{Body: resp}, nil
	})
}

// toHumaError translates domain errors to Huma HTTP errors.
func toHumaError(err error) error {
	switch {
	case domain.IsNotFound(err):
		return huma.Error404NotFound(err.Error())
	case domain.IsConflict(err), domain.IsVersionConflict(err):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError("internal server error")
	}
}
