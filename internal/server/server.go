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
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/engine/auth"
	"complyline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"close_out_date: required when status is completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"close_out_date\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Complyline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	hcfg := huma.DefaultConfig("Complyline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerMechanisms(group, cfg.Engine)
	registerObligations(group, cfg.Engine)
	registerAudits(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
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
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "unique"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "reassign them before deleting"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "close the actions instead"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
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

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, projectID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, projectID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func requireGlobalPermission(ctx context.Context, e engine.Engine, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	if e.Config == nil {
		return auth.ForbiddenError{Permission: perm}
	}
	return requirePermission(ctx, e, e.Config.Project.ID, perm)
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
    <title>Complyline API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project compliance status",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.StatusReport `json:"body"`
	}, error) {
		activeProject := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, activeProject, "project.status.read"); err != nil {
			return nil, handleError(err)
		}
		report, err := e.ProjectStatus(ctx, activeProject)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		if err := requireGlobalPermission(ctx, e, "project.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.InitProject(ctx, input.Body.ID, input.Body.OrgID, stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if err := requireGlobalPermission(ctx, e, "project.list"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Body      struct {
			Status      string  `json:"status,omitempty"`
			Description *string `json:"description,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.update"); err != nil {
			return nil, handleError(err)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.UpdateProject(ctx, projectID, input.Body.Status, input.Body.Description); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.delete"); err != nil {
			return nil, handleError(err)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteProject(ctx, projectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.config.read"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config/export",
		Summary:     "Export project config as YAML",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body struct {
			YAML string `json:"yaml"`
		} `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.config.read"); err != nil {
			return nil, handleError(err)
		}
		data, err := e.ExportConfig(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				YAML string `json:"yaml"`
			} `json:"body"`
		}{}
		out.Body.YAML = string(data)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-project-config",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/config",
		Summary:     "Import project config from YAML",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      ImportConfigRequest `json:"body"`
	}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.YAML) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "yaml is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.config.write"); err != nil {
			return nil, handleError(err)
		}
		cfg, err := e.ImportConfig(ctx, projectID, []byte(input.Body.YAML), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerMechanisms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-mechanism",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/mechanisms",
		Summary:       "Create mechanism",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      CreateMechanismRequest `json:"body"`
	}) (*struct {
		Body MechanismResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.write"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.CreateMechanism(ctx, engine.MechanismCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			ProjectID:   projectID,
			Reference:   input.Body.Reference,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MechanismResponse `json:"body"`
		}{Body: mechanismResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mechanisms",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/mechanisms",
		Summary:     "List mechanisms",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []MechanismResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMechanisms(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []MechanismResponse `json:"body"`
		}{Body: mapMechanisms(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-mechanism",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/mechanisms/{id}",
		Summary:     "Get mechanism",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body MechanismResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.read"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.Repo.GetMechanism(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, m.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "mechanism not found in project", nil)
		}
		return &struct {
			Body MechanismResponse `json:"body"`
		}{Body: mechanismResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mechanism",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/mechanisms/{id}",
		Summary:     "Update mechanism",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		ID        string                 `path:"id"`
		Body      UpdateMechanismRequest `json:"body"`
	}) (*struct {
		Body MechanismResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.write"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.UpdateMechanism(ctx, engine.MechanismUpdateOptions{
			ID:          input.ID,
			Reference:   input.Body.Reference,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, m.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "mechanism not found in project", nil)
		}
		return &struct {
			Body MechanismResponse `json:"body"`
		}{Body: mechanismResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-mechanism",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/mechanisms/{id}",
		Summary:     "Delete mechanism",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteMechanism(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "recount-mechanism",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/mechanisms/{id}/recount",
		Summary:     "Recount mechanism counters",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body RecountResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.recount"); err != nil {
			return nil, handleError(err)
		}
		counts, err := e.RecountMechanism(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RecountResponse `json:"body"`
		}{Body: RecountResponse{
			MechanismID: input.ID,
			NotStarted:  counts.NotStarted,
			InProgress:  counts.InProgress,
			Completed:   counts.Completed,
			Overdue:     counts.Overdue,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resync-mechanisms",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/mechanisms/resync",
		Summary:     "Recount all mechanism counters",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ResyncResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "mechanism.recount"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.ResyncMechanisms(ctx, projectID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ResyncResponse `json:"body"`
		}{Body: ResyncResponse{ProjectID: projectID, Mechanisms: n}}, nil
	})
}

func registerObligations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-obligation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/obligations",
		Summary:       "Create obligation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		Body      CreateObligationRequest `json:"body"`
	}) (*struct {
		Body ObligationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "obligation.write"); err != nil {
			return nil, handleError(err)
		}
		o, err := e.CreateObligation(ctx, engine.ObligationCreateOptions{
			ID:                 stringOrEmpty(input.Body.ID),
			ProjectID:          projectID,
			MechanismID:        stringOrEmpty(input.Body.MechanismID),
			Title:              input.Body.Title,
			Description:        stringOrEmpty(input.Body.Description),
			Status:             stringOrEmpty(input.Body.Status),
			DueDate:            stringOrEmpty(input.Body.DueDate),
			CloseOutDate:       stringOrEmpty(input.Body.CloseOutDate),
			Recurring:          input.Body.Recurring,
			RecurringFrequency: stringOrEmpty(input.Body.RecurringFrequency),
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ObligationResponse `json:"body"`
		}{Body: obligationResponse(e.ViewObligation(o))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-obligations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/obligations",
		Summary:     "List obligations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		MechanismID string `query:"mechanism_id"`
		Status      string `query:"status" enum:"not_started,in_progress,completed"`
		Recurring   string `query:"recurring" enum:"true,false"`
		DueBefore   string `query:"due_before"`
		DueAfter    string `query:"due_after"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedObligations `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "obligation.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		f := repo.ObligationFilters{
			ProjectID:       projectID,
			MechanismID:     input.MechanismID,
			Status:          input.Status,
			DueBefore:       input.DueBefore,
			DueAfter:        input.DueAfter,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.Recurring != "" {
			recurring := input.Recurring == "true"
			f.Recurring = &recurring
		}
		views, err := e.ListObligations(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedObligations{Items: []ObligationResponse{}}
		if len(views) > limit {
			resp.NextCursor = composeCursor(views[limit].CreatedAt, views[limit].ID)
			views = views[:limit]
		}
		for _, v := range views {
			resp.Items = append(resp.Items, obligationResponse(v))
		}
		return &struct {
			Body paginatedObligations `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-obligation",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/obligations/{id}",
		Summary:     "Get obligation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body ObligationResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "obligation.read"); err != nil {
			return nil, handleError(err)
		}
		o, err := e.Repo.GetObligation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, o.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "obligation not found in project", nil)
		}
		return &struct {
			Body ObligationResponse `json:"body"`
		}{Body: obligationResponse(e.ViewObligation(o))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-obligation",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/obligations/{id}",
		Summary:     "Update obligation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ID        string                  `path:"id"`
		Body      UpdateObligationRequest `json:"body"`
	}) (*struct {
		Body ObligationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "obligation.write"); err != nil {
			return nil, handleError(err)
		}
		o, err := e.UpdateObligation(ctx, engine.ObligationUpdateOptions{
			ID:                 input.ID,
			MechanismID:        input.Body.MechanismID,
			Title:              input.Body.Title,
			Description:        input.Body.Description,
			Status:             input.Body.Status,
			DueDate:            input.Body.DueDate,
			CloseOutDate:       input.Body.CloseOutDate,
			Recurring:          input.Body.Recurring,
			RecurringFrequency: input.Body.RecurringFrequency,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, o.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "obligation not found in project", nil)
		}
		return &struct {
			Body ObligationResponse `json:"body"`
		}{Body: obligationResponse(e.ViewObligation(o))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-obligation",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/obligations/{id}",
		Summary:     "Delete obligation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "obligation.delete"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteObligation(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-evidence",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/obligations/{id}/evidence",
		Summary:       "Attach evidence",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		ID        string                `path:"id"`
		Body      CreateEvidenceRequest `json:"body"`
	}) (*struct {
		Body EvidenceResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "evidence.write"); err != nil {
			return nil, handleError(err)
		}
		ev, err := e.AddEvidence(ctx, engine.EvidenceAddOptions{
			ID:           stringOrEmpty(input.Body.ID),
			ObligationID: input.ID,
			Kind:         input.Body.Kind,
			Title:        input.Body.Title,
			URL:          input.Body.URL,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EvidenceResponse `json:"body"`
		}{Body: evidenceResponse(ev)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/obligations/{id}/evidence",
		Summary:     "List evidence",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []EvidenceResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "evidence.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListEvidence(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []EvidenceResponse{}
		for _, ev := range items {
			res = append(res, evidenceResponse(ev))
		}
		return &struct {
			Body []EvidenceResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-evidence",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/evidence/{id}",
		Summary:     "Delete evidence",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "evidence.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteEvidence(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-obligation",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/obligations/{id}/assignees",
		Summary:     "Assign obligation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ID        string                  `path:"id"`
		Body      AssignObligationRequest `json:"body"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "assignment.write"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.AssignObligation(ctx, input.ID, input.Body.ActorID, input.Body.Role, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignees",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/obligations/{id}/assignees",
		Summary:     "List obligation assignees",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "assignment.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAssignments(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []AssignmentResponse{}
		for _, a := range items {
			res = append(res, assignmentResponse(a))
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unassign-obligation",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/obligations/{id}/assignees/{actor_id}",
		Summary:     "Unassign obligation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
		ActorID   string `path:"actor_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "assignment.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.UnassignObligation(ctx, input.ID, input.ActorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAudits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-audit",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/audits",
		Summary:       "Create audit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      CreateAuditRequest `json:"body"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.CreateAudit(ctx, engine.AuditCreateOptions{
			ID:           stringOrEmpty(input.Body.ID),
			ProjectID:    projectID,
			Title:        input.Body.Title,
			Description:  stringOrEmpty(input.Body.Description),
			MechanismIDs: input.Body.MechanismIDs,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: auditResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audits",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audits",
		Summary:     "List audits",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []AuditResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAudits(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []AuditResponse{}
		for _, a := range items {
			res = append(res, auditResponse(a))
		}
		return &struct {
			Body []AuditResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audits/{id}",
		Summary:     "Get audit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.read"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetAudit(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, a.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "audit not found in project", nil)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: auditResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-audit-scope",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/audits/{id}/mechanisms",
		Summary:     "Replace audit mechanism scope",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		ID        string               `path:"id"`
		Body      SetAuditScopeRequest `json:"body"`
	}) (*struct {
		Body AuditResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		a, err := e.SetAuditMechanisms(ctx, input.ID, input.Body.MechanismIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditResponse `json:"body"`
		}{Body: auditResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rebuild-audit-entries",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/audits/{id}/entries/rebuild",
		Summary:     "Regenerate audit entries from scope",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body RebuildEntriesResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.RebuildAuditEntries(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RebuildEntriesResponse `json:"body"`
		}{Body: RebuildEntriesResponse{AuditID: input.ID, Entries: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit-entries",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audits/{id}/entries",
		Summary:     "List audit entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []AuditEntryResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAuditEntries(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []AuditEntryResponse{}
		for _, en := range items {
			res = append(res, entryResponse(en))
		}
		return &struct {
			Body []AuditEntryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-audit",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/audits/{id}",
		Summary:     "Delete audit",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteAudit(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-entry-finding",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/entries/{id}/finding",
		Summary:     "Record entry finding",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		ID        string            `path:"id"`
		Body      SetFindingRequest `json:"body"`
	}) (*struct {
		Body AuditEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		en, err := e.SetEntryFinding(ctx, input.ID, input.Body.Finding, input.Body.Notes, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AuditEntryResponse `json:"body"`
		}{Body: entryResponse(en)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-mitigation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/entries/{id}/mitigations",
		Summary:       "Add mitigation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ID        string                  `path:"id"`
		Body      CreateMitigationRequest `json:"body"`
	}) (*struct {
		Body MitigationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.AddMitigation(ctx, input.ID, input.Body.Description, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MitigationResponse `json:"body"`
		}{Body: mitigationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-mitigations",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/entries/{id}/mitigations",
		Summary:     "List mitigations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []MitigationResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListMitigations(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []MitigationResponse{}
		for _, m := range items {
			res = append(res, mitigationResponse(m))
		}
		return &struct {
			Body []MitigationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-mitigation",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/mitigations/{id}",
		Summary:     "Update mitigation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ID        string                  `path:"id"`
		Body      UpdateMitigationRequest `json:"body"`
	}) (*struct {
		Body MitigationResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		m, err := e.UpdateMitigation(ctx, engine.MitigationUpdateOptions{
			ID:          input.ID,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MitigationResponse `json:"body"`
		}{Body: mitigationResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-mitigation",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/mitigations/{id}",
		Summary:     "Delete mitigation",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteMitigation(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-corrective-action",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/mitigations/{id}/actions",
		Summary:       "Add corrective action",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                        `path:"project_id"`
		ID        string                        `path:"id"`
		Body      CreateCorrectiveActionRequest `json:"body"`
	}) (*struct {
		Body CorrectiveActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		ca, err := e.AddCorrectiveAction(ctx, engine.CorrectiveActionOptions{
			MitigationID: input.ID,
			Description:  input.Body.Description,
			DueDate:      input.Body.DueDate,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CorrectiveActionResponse `json:"body"`
		}{Body: actionResponse(ca)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-corrective-actions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/mitigations/{id}/actions",
		Summary:     "List corrective actions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body []CorrectiveActionResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCorrectiveActions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []CorrectiveActionResponse{}
		for _, ca := range items {
			res = append(res, actionResponse(ca))
		}
		return &struct {
			Body []CorrectiveActionResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-corrective-action",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/actions/{id}",
		Summary:     "Update corrective action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                        `path:"project_id"`
		ID        string                        `path:"id"`
		Body      UpdateCorrectiveActionRequest `json:"body"`
	}) (*struct {
		Body CorrectiveActionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		ca, err := e.UpdateCorrectiveAction(ctx, engine.CorrectiveActionUpdateOptions{
			ID:          input.ID,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			DueDate:     input.Body.DueDate,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CorrectiveActionResponse `json:"body"`
		}{Body: actionResponse(ca)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-corrective-action",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/actions/{id}",
		Summary:     "Delete corrective action",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "audit.write"); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteCorrectiveAction(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "event.read"); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, projectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		who, err := e.WhoAmI(ctx, projectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     who.ActorID,
			OrgID:       principal.OrgID,
			Roles:       nonNilSlice(who.Roles),
			Permissions: nonNilSlice(who.Permissions),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.update"); err != nil {
			return nil, handleError(err)
		}
		if err := e.GrantRole(ctx, projectID, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, e.Config.Project.ID)
		if err := requirePermission(ctx, e, projectID, "project.update"); err != nil {
			return nil, handleError(err)
		}
		if err := e.RevokeRole(ctx, projectID, input.Body.ActorID, input.Body.RoleID, actorID); err != nil {
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
		roles := principal.Roles
		perms := principal.Permissions
		if len(perms) == 0 && e.Config != nil {
			if who, err := e.WhoAmI(ctx, e.Config.Project.ID, principal.ActorID); err == nil {
				if len(roles) == 0 {
					roles = who.Roles
				}
				perms = who.Permissions
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			OrgID:       principal.OrgID,
			Roles:       nonNilSlice(roles),
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
		actor := strings.TrimSpace(input.Body.ActorID)
		org := strings.TrimSpace(input.Body.OrgID)
		if actor == "" || org == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id and org_id are required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, org, input.Body.Roles, input.Body.Scopes)
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	return ts + "|" + id
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := []ProjectResponse{}
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapMechanisms(items []domain.Mechanism) []MechanismResponse {
	res := []MechanismResponse{}
	for _, m := range items {
		res = append(res, mechanismResponse(m))
	}
	return res
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func projectFromPathOrHeader(ctx context.Context, pathProjectID, fallback string) string {
	if pathProjectID != "" {
		return pathProjectID
	}
	return projectFromHeader(ctx, fallback)
}

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}

func projectFromHeader(ctx context.Context, fallback string) string {
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Project-Id")); v != "" {
			return v
		}
	}
	return fallback
}
