package domain

type Client struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Citizenship string `json:"citizenship,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Case struct {
	ID         int64   `json:"id"`
	ClientID   int64   `json:"client_id"`
	ClientName string  `json:"client_name,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Status     string  `json:"status" enum:"ANALYST,REVIEWER,AFC_REVIEWER,ACO_REVIEWER,APPROVED"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type CaseComment struct {
	ID        int64  `json:"id"`
	CaseID    int64  `json:"case_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	Role      string `json:"role,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CaseEvent struct {
	ID          int64  `json:"id"`
	CaseID      int64  `json:"case_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// ProcessInstance is one case's journey through the stage machine. At most
// one live instance exists per case.
type ProcessInstance struct {
	ID        string `json:"id"`
	CaseID    int64  `json:"case_id"`
	ClientID  int64  `json:"client_id"`
	Initiator string `json:"initiator"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StageTask is the single outstanding unit of work for a ProcessInstance.
type StageTask struct {
	ID                string  `json:"id"`
	ProcessInstanceID string  `json:"process_instance_id"`
	Stage             string  `json:"stage" enum:"ANALYST,REVIEWER,AFC_REVIEWER,ACO_REVIEWER"`
	Assignee          *string `json:"assignee,omitempty"`
	CandidateGroup    string  `json:"candidate_group"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

// TaskSummary is a StageTask joined with its instance's variables, enough to
// resolve back to a case and client from a work queue listing.
type TaskSummary struct {
	TaskID            string  `json:"task_id"`
	ProcessInstanceID string  `json:"process_instance_id"`
	Stage             string  `json:"stage"`
	Assignee          *string `json:"assignee,omitempty"`
	CandidateGroup    string  `json:"candidate_group"`
	CaseID            int64   `json:"case_id"`
	ClientID          int64   `json:"client_id"`
	Initiator         string  `json:"initiator"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type QuestionnaireSection struct {
	ID           int64                   `json:"id"`
	Name         string                  `json:"name"`
	DisplayOrder int                     `json:"display_order"`
	Questions    []QuestionnaireQuestion `json:"questions"`
}

type QuestionnaireQuestion struct {
	ID            int64  `json:"id"`
	SectionID     int64  `json:"section_id"`
	Text          string `json:"text"`
	Type          string `json:"type"`
	Mandatory     bool   `json:"mandatory"`
	Options       string `json:"options,omitempty"`
	DisplayOrder  int    `json:"display_order"`
	RiskFactorKey string `json:"risk_factor_key,omitempty"`
}

type QuestionnaireAnswer struct {
	CaseID     int64  `json:"case_id"`
	QuestionID int64  `json:"question_id"`
	Text       string `json:"text"`
}

type AdHocTask struct {
	ID           string         `json:"id"`
	Owner        string         `json:"owner"`
	Assignee     string         `json:"assignee"`
	RequestText  string         `json:"request_text"`
	ClientID     *int64         `json:"client_id,omitempty"`
	Status       string         `json:"status" enum:"OPEN,RESPONDED,COMPLETED"`
	ResponseText *string        `json:"response_text,omitempty"`
	Responder    *string        `json:"responder,omitempty"`
	Comments     []AdHocComment `json:"comments,omitempty"`
	CreatedAt    string         `json:"created_at" format:"date-time"`
	UpdatedAt    string         `json:"updated_at" format:"date-time"`
}

type AdHocComment struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	Author    string `json:"author"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ScreeningLog struct {
	ID                int64  `json:"id"`
	ClientID          int64  `json:"client_id"`
	RequestJSON       string `json:"request_json"`
	ResponseJSON      string `json:"response_json,omitempty"`
	Status            string `json:"status" enum:"IN_PROGRESS,COMPLETED"`
	ExternalRequestID string `json:"external_request_id"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

type ScreeningResult struct {
	ID         int64   `json:"id"`
	LogID      int64   `json:"log_id"`
	Context    string  `json:"context" enum:"PEP,ADM,INT,SAN"`
	Status     string  `json:"status" enum:"IN_PROGRESS,COMPLETED"`
	Hit        *bool   `json:"hit,omitempty"`
	MatchName  *string `json:"match_name,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
