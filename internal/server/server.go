package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/adhoc"
	"caseflow/internal/engine/auth"
	"caseflow/internal/repo"
	"caseflow/internal/screening"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	AdHoc     adhoc.Service
	Screening screening.Service
	Auth      AuthConfig
	BasePath  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"permission case.approve.stage2 required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"case.approve.stage2\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Caseflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Caseflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClients(group, cfg.Engine)
	registerCases(group, cfg.Engine)
	registerQuestionnaire(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerProcesses(group, cfg.Engine)
	registerAdHoc(group, cfg.AdHoc)
	registerScreening(group, cfg.Screening)
	registerRBAC(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var nae auth.NotAssigneeError
	if errors.As(err, &nae) {
		return newAPIError(http.StatusForbidden, "not_assignee", err.Error(), map[string]any{"task_id": nae.TaskID})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "questionnaire_incomplete", err.Error(), map[string]any{"question": ve.Question})
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"status": ise.Status})
	}
	var aise adhoc.InvalidStateError
	if errors.As(err, &aise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"status": aise.Status})
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "task_claimed", err.Error(), map[string]any{"task_id": ce.TaskID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requirePermission(ctx context.Context, e engine.Engine, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	svc := auth.Service{DB: e.DB}
	if err := svc.RequirePermission(ctx, principal.Roles, perm); err != nil {
		return Principal{}, err
	}
	return principal, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Caseflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Register client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, err := requirePermission(ctx, e, "case.create"); err != nil {
			return nil, handleError(err)
		}
		c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
			FirstName:   input.Body.FirstName,
			LastName:    input.Body.LastName,
			DateOfBirth: input.Body.DateOfBirth,
			Citizenship: input.Body.Citizenship,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClientResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClientResponse `json:"body"`
		}{Body: mapClients(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetClient(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})
}

func registerCases(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-case",
		Method:        http.MethodPost,
		Path:          "/cases",
		Summary:       "Open case",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCaseRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, err := requirePermission(ctx, e, "case.create")
		if err != nil {
			return nil, handleError(err)
		}
		c, pi, err := e.StartCase(ctx, engine.StartCaseOptions{
			ClientID:  input.Body.ClientID,
			Reason:    input.Body.Reason,
			Initiator: principal.UserID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := caseResponse(c)
		resp.ProcessInstanceID = pi.ID
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-cases",
		Method:      http.MethodGet,
		Path:        "/cases",
		Summary:     "List cases",
	}, func(ctx context.Context, input *struct {
		ClientID int64  `query:"client_id"`
		Status   string `query:"status"`
		Assignee string `query:"assignee"`
	}) (*struct {
		Body []CaseResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListCases(ctx, repo.CaseFilters{
			ClientID: input.ClientID,
			Status:   input.Status,
			Assignee: input.Assignee,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CaseResponse `json:"body"`
		}{Body: mapCases(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-case",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}",
		Summary:     "Get case",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.Repo.GetCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := caseResponse(c)
		if pi, err := e.Repo.GetProcessInstanceByCase(ctx, input.CaseID); err == nil {
			resp.ProcessInstanceID = pi.ID
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-case",
		Method:      http.MethodPost,
		Path:        "/cases/{case_id}/transition",
		Summary:     "Approve or reject the case at its current stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		CaseID int64             `path:"case_id"`
		Body   TransitionRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pi, err := e.Repo.GetProcessInstanceByCase(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.Repo.GetStageTaskByInstance(ctx, pi.ID)
		if err != nil {
			return nil, handleError(err)
		}
		svc := auth.Service{DB: e.DB}
		if err := svc.RequirePermission(ctx, principal.Roles, e.StagePermission(t.Stage)); err != nil {
			return nil, handleError(err)
		}
		var c domain.Case
		switch strings.ToUpper(input.Body.Action) {
		case "APPROVE":
			c, err = e.AdvanceTask(ctx, t.ID, principal.UserID)
		case "REJECT":
			role := ""
			if len(principal.Roles) > 0 {
				role = principal.Roles[0]
			}
			c, err = e.RejectTask(ctx, t.ID, principal.UserID, role, input.Body.Comment)
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "action must be APPROVE or REJECT", nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "assign-case",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/assign",
		Summary:       "Force-assign the case's open task",
		DefaultStatus: http.StatusOK,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CaseID int64             `path:"case_id"`
		Body   AssignCaseRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "case.manage")
		if err != nil {
			return nil, handleError(err)
		}
		t, err := e.AssignCase(ctx, input.CaseID, input.Body.UserID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "migrate-case",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/migrate",
		Summary:       "Rebuild the case's process instance",
		DefaultStatus: http.StatusOK,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
	}) (*struct {
		Body ProcessResponse `json:"body"`
	}, error) {
		principal, err := requirePermission(ctx, e, "case.manage")
		if err != nil {
			return nil, handleError(err)
		}
		pi, err := e.MigrateLegacyCase(ctx, input.CaseID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProcessResponse `json:"body"`
		}{Body: processResponse(pi)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "comment-case",
		Method:        http.MethodPost,
		Path:          "/cases/{case_id}/comments",
		Summary:       "Add case comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		CaseID int64          `path:"case_id"`
		Body   CommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role := ""
		if len(principal.Roles) > 0 {
			role = principal.Roles[0]
		}
		c, err := e.AddComment(ctx, input.CaseID, principal.UserID, role, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-comments",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/comments",
		Summary:     "List case comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCaseComments(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: nonNilSlice(mapComments(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-case-events",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/events",
		Summary:     "Case event log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
		Limit  int   `query:"limit"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCaseEvents(ctx, input.CaseID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: nonNilSlice(mapEvents(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-events",
		Method:      http.MethodDelete,
		Path:        "/events",
		Summary:     "Purge events older than a cutoff",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Before string `query:"before" format:"date-time"`
	}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		if input.Before == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "before is required", nil)
		}
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.Repo.PurgeCaseEvents(ctx, input.Before)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"purged": n}}, nil
	})
}

func registerQuestionnaire(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-questionnaire",
		Method:      http.MethodGet,
		Path:        "/questionnaire",
		Summary:     "Questionnaire definition",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SectionResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		sections, err := e.Repo.ListQuestionnaire(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SectionResponse `json:"body"`
		}{Body: nonNilSlice(mapSections(sections))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-question",
		Method:        http.MethodPost,
		Path:          "/questionnaire/questions",
		Summary:       "Add a questionnaire question",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body AddQuestionRequest `json:"body"`
	}) (*struct {
		Body QuestionResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, err
		}
		q, err := e.AddQuestion(ctx, engine.AddQuestionOptions{
			Section:       input.Body.Section,
			Text:          input.Body.Text,
			Type:          input.Body.Type,
			Mandatory:     input.Body.Mandatory,
			Options:       input.Body.Options,
			RiskFactorKey: input.Body.RiskFactorKey,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuestionResponse `json:"body"`
		}{Body: QuestionResponse{
			ID:            q.ID,
			Text:          q.Text,
			Type:          q.Type,
			Mandatory:     q.Mandatory,
			Options:       q.Options,
			DisplayOrder:  q.DisplayOrder,
			RiskFactorKey: q.RiskFactorKey,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-answers",
		Method:      http.MethodPut,
		Path:        "/cases/{case_id}/answers",
		Summary:     "Save questionnaire answers",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		CaseID int64          `path:"case_id"`
		Body   AnswersRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		answers := make([]domain.QuestionnaireAnswer, 0, len(input.Body.Answers))
		for _, a := range input.Body.Answers {
			answers = append(answers, domain.QuestionnaireAnswer{
				CaseID:     input.CaseID,
				QuestionID: a.QuestionID,
				Text:       a.Text,
			})
		}
		if err := e.SaveAnswers(ctx, input.CaseID, answers); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-answers",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/answers",
		Summary:     "List case answers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
	}) (*struct {
		Body []AnswerResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetCase(ctx, input.CaseID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAnswers(ctx, input.CaseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AnswerResponse `json:"body"`
		}{Body: nonNilSlice(mapAnswers(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-completeness",
		Method:      http.MethodGet,
		Path:        "/cases/{case_id}/completeness",
		Summary:     "Check the mandatory questionnaire is complete",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CaseID int64 `path:"case_id"`
	}) (*struct {
		Body CompletenessResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		err := e.CheckComplete(ctx, input.CaseID)
		var ve engine.ValidationError
		if errors.As(err, &ve) {
			return &struct {
				Body CompletenessResponse `json:"body"`
			}{Body: CompletenessResponse{Complete: false, MissingQuestion: ve.Question}}, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletenessResponse `json:"body"`
		}{Body: CompletenessResponse{Complete: true}}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-my-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/mine",
		Summary:     "My work queue",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListUserTasks(ctx, principal.UserID, principal.Groups)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: nonNilSlice(mapSummaries(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-all-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "All open tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.manage"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListAllTasks(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: nonNilSlice(mapSummaries(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/claim",
		Summary:     "Claim task",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ClaimTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unclaim-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/unclaim",
		Summary:     "Release task back to the queue",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UnclaimTask(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve the task's stage",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		svc := auth.Service{DB: e.DB}
		if err := svc.RequirePermission(ctx, principal.Roles, e.StagePermission(t.Stage)); err != nil {
			return nil, handleError(err)
		}
		c, err := e.AdvanceTask(ctx, input.TaskID, principal.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reject",
		Summary:     "Reject the task's stage back to the analyst",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Body   CommentRequest `json:"body"`
	}) (*struct {
		Body CaseResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		svc := auth.Service{DB: e.DB}
		if err := svc.RequirePermission(ctx, principal.Roles, e.StagePermission(t.Stage)); err != nil {
			return nil, handleError(err)
		}
		role := ""
		if len(principal.Roles) > 0 {
			role = principal.Roles[0]
		}
		c, err := e.RejectTask(ctx, input.TaskID, principal.UserID, role, input.Body.Text)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CaseResponse `json:"body"`
		}{Body: caseResponse(c)}, nil
	})
}

func registerProcesses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List live process instances",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProcessResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.manage"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListProcesses(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProcessResponse `json:"body"`
		}{Body: nonNilSlice(mapProcesses(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "terminate-process",
		Method:      http.MethodDelete,
		Path:        "/processes/{process_id}",
		Summary:     "Terminate a process instance",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProcessID string `path:"process_id"`
		Reason    string `query:"reason"`
	}) (*struct{}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Terminate(ctx, input.ProcessID, input.Reason); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-all-processes",
		Method:      http.MethodDelete,
		Path:        "/processes",
		Summary:     "Terminate every process instance",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Reason string `query:"reason"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.DeleteAllProcesses(ctx, input.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"terminated": n}}, nil
	})
}

func registerAdHoc(api huma.API, svc adhoc.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-adhoc-task",
		Method:        http.MethodPost,
		Path:          "/adhoc-tasks",
		Summary:       "Open ad-hoc task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAdHocTaskRequest `json:"body"`
	}) (*struct {
		Body AdHocTaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := svc.Create(ctx, adhoc.CreateOptions{
			Owner:       userID,
			Assignee:    input.Body.Assignee,
			RequestText: input.Body.RequestText,
			ClientID:    input.Body.ClientID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocTaskResponse `json:"body"`
		}{Body: adhocResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-adhoc-tasks",
		Method:      http.MethodGet,
		Path:        "/adhoc-tasks/mine",
		Summary:     "My ad-hoc tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AdHocTaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := svc.ListMine(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AdHocTaskResponse `json:"body"`
		}{Body: nonNilSlice(mapAdHocTasks(items))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-adhoc-task",
		Method:      http.MethodGet,
		Path:        "/adhoc-tasks/{task_id}",
		Summary:     "Get ad-hoc task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body AdHocTaskResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		t, err := svc.Get(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocTaskResponse `json:"body"`
		}{Body: adhocResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "respond-adhoc-task",
		Method:      http.MethodPost,
		Path:        "/adhoc-tasks/{task_id}/respond",
		Summary:     "Respond to ad-hoc task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   AdHocRespondRequest `json:"body"`
	}) (*struct {
		Body AdHocTaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := svc.Respond(ctx, input.TaskID, userID, input.Body.ResponseText)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocTaskResponse `json:"body"`
		}{Body: adhocResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-adhoc-task",
		Method:      http.MethodPost,
		Path:        "/adhoc-tasks/{task_id}/reassign",
		Summary:     "Reassign ad-hoc task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   AdHocReassignRequest `json:"body"`
	}) (*struct {
		Body AdHocTaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := svc.Reassign(ctx, input.TaskID, userID, input.Body.Assignee)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocTaskResponse `json:"body"`
		}{Body: adhocResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-adhoc-task",
		Method:      http.MethodPost,
		Path:        "/adhoc-tasks/{task_id}/complete",
		Summary:     "Complete ad-hoc task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body AdHocTaskResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := svc.Complete(ctx, input.TaskID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocTaskResponse `json:"body"`
		}{Body: adhocResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "comment-adhoc-task",
		Method:        http.MethodPost,
		Path:          "/adhoc-tasks/{task_id}/comments",
		Summary:       "Comment on ad-hoc task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   AdHocCommentRequest `json:"body"`
	}) (*struct {
		Body AdHocCommentResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := svc.Comment(ctx, input.TaskID, userID, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AdHocCommentResponse `json:"body"`
		}{Body: AdHocCommentResponse{
			ID:        c.ID,
			Author:    c.Author,
			Message:   c.Message,
			CreatedAt: c.CreatedAt,
		}}, nil
	})
}

func registerScreening(api huma.API, svc screening.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "screen-client",
		Method:        http.MethodPost,
		Path:          "/clients/{client_id}/screenings",
		Summary:       "File a screening request",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body ScreeningResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		l, err := svc.Screen(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		results, err := svc.Repo.ListScreeningResults(ctx, l.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScreeningResponse `json:"body"`
		}{Body: screeningResponse(l, results)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-screenings",
		Method:      http.MethodGet,
		Path:        "/clients/{client_id}/screenings",
		Summary:     "Screening history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ClientID int64 `path:"client_id"`
	}) (*struct {
		Body []ScreeningResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := svc.Repo.GetClient(ctx, input.ClientID); err != nil {
			return nil, handleError(err)
		}
		logs, results, err := svc.History(ctx, input.ClientID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ScreeningResponse, 0, len(logs))
		for _, l := range logs {
			out = append(out, screeningResponse(l, results[l.ID]))
		}
		return &struct {
			Body []ScreeningResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-screening",
		Method:      http.MethodPost,
		Path:        "/screenings/resolve",
		Summary:     "Record a screening verdict",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ResolveScreeningRequest `json:"body"`
	}) (*struct{}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		if err := svc.Resolve(ctx, input.Body.ExternalRequestID, input.Body.Context, input.Body.Hit, input.Body.MatchName); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-role-permissions",
		Method:      http.MethodGet,
		Path:        "/rbac/permissions",
		Summary:     "Role permission matrix",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string][]string `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		perms, err := e.Repo.ListRolePermissions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string][]string `json:"body"`
		}{Body: perms}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-permission",
		Method:      http.MethodPost,
		Path:        "/rbac/permissions/grant",
		Summary:     "Grant permission to role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body RolePermissionRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.Role == "" || input.Body.Permission == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role and permission are required", nil)
		}
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.AddRolePermission(ctx, tx, input.Body.Role, input.Body.Permission); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-permission",
		Method:      http.MethodPost,
		Path:        "/rbac/permissions/revoke",
		Summary:     "Revoke permission from role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body RolePermissionRequest `json:"body"`
	}) (*struct{}, error) {
		if input.Body.Role == "" || input.Body.Permission == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role and permission are required", nil)
		}
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.RemoveRolePermission(ctx, tx, input.Body.Role, input.Body.Permission); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		secret := uuid.NewString()
		key := domain.APIKey{
			ID:        uuid.NewString(),
			UserID:    input.Body.UserID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(secret),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        key.ID,
			UserID:    key.UserID,
			Name:      key.Name,
			Key:       secret,
			CreatedAt: key.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, APIKeyResponse{
				ID:        k.ID,
				UserID:    k.UserID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, err := requirePermission(ctx, e, "case.admin"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc := auth.Service{DB: e.DB}
		perms, err := svc.RolePermissions(ctx, principal.Roles)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID:      principal.UserID,
			Roles:       nonNilSlice(principal.Roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, input.Body.Roles, input.Body.Groups)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
