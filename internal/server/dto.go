package server

import (
	"caseflow/internal/domain"
)

type CreateClientRequest struct {
	FirstName   string `json:"first_name" example:"Ada"`
	LastName    string `json:"last_name" example:"Lovelace"`
	DateOfBirth string `json:"date_of_birth,omitempty" example:"1815-12-10"`
	Citizenship string `json:"citizenship,omitempty" example:"GB"`
}

type ClientResponse struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Citizenship string `json:"citizenship,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func clientResponse(c domain.Client) ClientResponse {
	return ClientResponse{
		ID:          c.ID,
		FirstName:   c.FirstName,
		LastName:    c.LastName,
		DateOfBirth: c.DateOfBirth,
		Citizenship: c.Citizenship,
		CreatedAt:   c.CreatedAt,
	}
}

func mapClients(in []domain.Client) []ClientResponse {
	out := make([]ClientResponse, 0, len(in))
	for _, c := range in {
		out = append(out, clientResponse(c))
	}
	return out
}

type CreateCaseRequest struct {
	ClientID int64  `json:"client_id"`
	Reason   string `json:"reason,omitempty" example:"Periodic review"`
}

type CaseResponse struct {
	ID                int64   `json:"id"`
	ClientID          int64   `json:"client_id"`
	ClientName        string  `json:"client_name,omitempty"`
	Reason            string  `json:"reason,omitempty"`
	Status            string  `json:"status"`
	AssignedTo        *string `json:"assigned_to,omitempty"`
	ProcessInstanceID string  `json:"process_instance_id,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func caseResponse(c domain.Case) CaseResponse {
	return CaseResponse{
		ID:         c.ID,
		ClientID:   c.ClientID,
		ClientName: c.ClientName,
		Reason:     c.Reason,
		Status:     c.Status,
		AssignedTo: c.AssignedTo,
		CreatedAt:  c.CreatedAt,
	}
}

func mapCases(in []domain.Case) []CaseResponse {
	out := make([]CaseResponse, 0, len(in))
	for _, c := range in {
		out = append(out, caseResponse(c))
	}
	return out
}

type TransitionRequest struct {
	Action  string `json:"action" enum:"APPROVE,REJECT"`
	Comment string `json:"comment,omitempty"`
}

type TaskResponse struct {
	TaskID            string  `json:"task_id"`
	ProcessInstanceID string  `json:"process_instance_id"`
	Stage             string  `json:"stage"`
	Assignee          *string `json:"assignee,omitempty"`
	CandidateGroup    string  `json:"candidate_group"`
	CaseID            int64   `json:"case_id,omitempty"`
	ClientID          int64   `json:"client_id,omitempty"`
	Initiator         string  `json:"initiator,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

func taskResponse(t domain.StageTask) TaskResponse {
	return TaskResponse{
		TaskID:            t.ID,
		ProcessInstanceID: t.ProcessInstanceID,
		Stage:             t.Stage,
		Assignee:          t.Assignee,
		CandidateGroup:    t.CandidateGroup,
		CreatedAt:         t.CreatedAt,
	}
}

func summaryResponse(s domain.TaskSummary) TaskResponse {
	return TaskResponse{
		TaskID:            s.TaskID,
		ProcessInstanceID: s.ProcessInstanceID,
		Stage:             s.Stage,
		Assignee:          s.Assignee,
		CandidateGroup:    s.CandidateGroup,
		CaseID:            s.CaseID,
		ClientID:          s.ClientID,
		Initiator:         s.Initiator,
		CreatedAt:         s.CreatedAt,
	}
}

func mapSummaries(in []domain.TaskSummary) []TaskResponse {
	out := make([]TaskResponse, 0, len(in))
	for _, s := range in {
		out = append(out, summaryResponse(s))
	}
	return out
}

type ProcessResponse struct {
	ID        string `json:"id"`
	CaseID    int64  `json:"case_id"`
	ClientID  int64  `json:"client_id"`
	Initiator string `json:"initiator"`
	CreatedAt string `json:"created_at"`
}

func processResponse(pi domain.ProcessInstance) ProcessResponse {
	return ProcessResponse{
		ID:        pi.ID,
		CaseID:    pi.CaseID,
		ClientID:  pi.ClientID,
		Initiator: pi.Initiator,
		CreatedAt: pi.CreatedAt,
	}
}

func mapProcesses(in []domain.ProcessInstance) []ProcessResponse {
	out := make([]ProcessResponse, 0, len(in))
	for _, pi := range in {
		out = append(out, processResponse(pi))
	}
	return out
}

type CommentRequest struct {
	Text string `json:"text"`
}

type CommentResponse struct {
	ID        int64  `json:"id"`
	CaseID    int64  `json:"case_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Role      string `json:"role,omitempty"`
	CreatedAt string `json:"created_at"`
}

func commentResponse(c domain.CaseComment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		CaseID:    c.CaseID,
		UserID:    c.UserID,
		Text:      c.Text,
		Role:      c.Role,
		CreatedAt: c.CreatedAt,
	}
}

func mapComments(in []domain.CaseComment) []CommentResponse {
	out := make([]CommentResponse, 0, len(in))
	for _, c := range in {
		out = append(out, commentResponse(c))
	}
	return out
}

type EventResponse struct {
	ID          int64  `json:"id"`
	CaseID      int64  `json:"case_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	CreatedAt   string `json:"created_at"`
}

func mapEvents(in []domain.CaseEvent) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, EventResponse{
			ID:          e.ID,
			CaseID:      e.CaseID,
			Type:        e.Type,
			Description: e.Description,
			Source:      e.Source,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}

type AnswerRequest struct {
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

type AnswersRequest struct {
	Answers []AnswerRequest `json:"answers"`
}

type AnswerResponse struct {
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

func mapAnswers(in []domain.QuestionnaireAnswer) []AnswerResponse {
	out := make([]AnswerResponse, 0, len(in))
	for _, a := range in {
		out = append(out, AnswerResponse{QuestionID: a.QuestionID, Text: a.Text})
	}
	return out
}

type CompletenessResponse struct {
	Complete        bool   `json:"complete"`
	MissingQuestion string `json:"missing_question,omitempty"`
}

type CreateAdHocTaskRequest struct {
	Assignee    string `json:"assignee"`
	RequestText string `json:"request_text"`
	ClientID    *int64 `json:"client_id,omitempty"`
}

type AdHocRespondRequest struct {
	ResponseText string `json:"response_text"`
}

type AdHocReassignRequest struct {
	Assignee string `json:"assignee"`
}

type AdHocCommentRequest struct {
	Message string `json:"message"`
}

type AdHocTaskResponse struct {
	ID           string                 `json:"id"`
	Owner        string                 `json:"owner"`
	Assignee     string                 `json:"assignee"`
	RequestText  string                 `json:"request_text"`
	ClientID     *int64                 `json:"client_id,omitempty"`
	Status       string                 `json:"status"`
	ResponseText *string                `json:"response_text,omitempty"`
	Responder    *string                `json:"responder,omitempty"`
	Comments     []AdHocCommentResponse `json:"comments,omitempty"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

type AdHocCommentResponse struct {
	ID        int64  `json:"id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func adhocResponse(t domain.AdHocTask) AdHocTaskResponse {
	out := AdHocTaskResponse{
		ID:           t.ID,
		Owner:        t.Owner,
		Assignee:     t.Assignee,
		RequestText:  t.RequestText,
		ClientID:     t.ClientID,
		Status:       t.Status,
		ResponseText: t.ResponseText,
		Responder:    t.Responder,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	for _, c := range t.Comments {
		out.Comments = append(out.Comments, AdHocCommentResponse{
			ID:        c.ID,
			Author:    c.Author,
			Message:   c.Message,
			CreatedAt: c.CreatedAt,
		})
	}
	return out
}

func mapAdHocTasks(in []domain.AdHocTask) []AdHocTaskResponse {
	out := make([]AdHocTaskResponse, 0, len(in))
	for _, t := range in {
		out = append(out, adhocResponse(t))
	}
	return out
}

type QuestionResponse struct {
	ID            int64  `json:"id"`
	Text          string `json:"text"`
	Type          string `json:"type"`
	Mandatory     bool   `json:"mandatory"`
	Options       string `json:"options,omitempty"`
	DisplayOrder  int    `json:"display_order"`
	RiskFactorKey string `json:"risk_factor_key,omitempty"`
}

type AddQuestionRequest struct {
	Section       string `json:"section"`
	Text          string `json:"text"`
	Type          string `json:"type,omitempty"`
	Mandatory     bool   `json:"mandatory,omitempty"`
	Options       string `json:"options,omitempty"`
	RiskFactorKey string `json:"risk_factor_key,omitempty"`
}

type SectionResponse struct {
	ID           int64              `json:"id"`
	Name         string             `json:"name"`
	DisplayOrder int                `json:"display_order"`
	Questions    []QuestionResponse `json:"questions"`
}

func mapSections(in []domain.QuestionnaireSection) []SectionResponse {
	out := make([]SectionResponse, 0, len(in))
	for _, s := range in {
		sec := SectionResponse{
			ID:           s.ID,
			Name:         s.Name,
			DisplayOrder: s.DisplayOrder,
			Questions:    []QuestionResponse{},
		}
		for _, q := range s.Questions {
			sec.Questions = append(sec.Questions, QuestionResponse{
				ID:            q.ID,
				Text:          q.Text,
				Type:          q.Type,
				Mandatory:     q.Mandatory,
				Options:       q.Options,
				DisplayOrder:  q.DisplayOrder,
				RiskFactorKey: q.RiskFactorKey,
			})
		}
		out = append(out, sec)
	}
	return out
}

type ScreeningResponse struct {
	ID                int64                     `json:"id"`
	ClientID          int64                     `json:"client_id"`
	Status            string                    `json:"status"`
	ExternalRequestID string                    `json:"external_request_id"`
	Results           []ScreeningResultResponse `json:"results,omitempty"`
	CreatedAt         string                    `json:"created_at"`
}

type ScreeningResultResponse struct {
	Context    string  `json:"context"`
	Status     string  `json:"status"`
	Hit        *bool   `json:"hit,omitempty"`
	MatchName  *string `json:"match_name,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

func screeningResponse(l domain.ScreeningLog, results []domain.ScreeningResult) ScreeningResponse {
	out := ScreeningResponse{
		ID:                l.ID,
		ClientID:          l.ClientID,
		Status:            l.Status,
		ExternalRequestID: l.ExternalRequestID,
		CreatedAt:         l.CreatedAt,
	}
	for _, r := range results {
		out.Results = append(out.Results, ScreeningResultResponse{
			Context:    r.Context,
			Status:     r.Status,
			Hit:        r.Hit,
			MatchName:  r.MatchName,
			ResolvedAt: r.ResolvedAt,
		})
	}
	return out
}

type ResolveScreeningRequest struct {
	ExternalRequestID string `json:"external_request_id"`
	Context           string `json:"context" enum:"PEP,ADM,INT,SAN"`
	Hit               bool   `json:"hit"`
	MatchName         string `json:"match_name,omitempty"`
}

type RolePermissionRequest struct {
	Role       string `json:"role"`
	Permission string `json:"permission"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

type WhoAmIResponse struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type DevLoginRequest struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type AssignCaseRequest struct {
	UserID string `json:"user_id"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
