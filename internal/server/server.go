package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contractline/internal/domain"
	"contractline/internal/registry"
)

// Persister is called after every successful mutation.
type Persister interface {
	Persist(ctx context.Context) error
}

// Config for the HTTP API handler.
type Config struct {
	Registry     *registry.Registry
	BasePath     string
	DefaultActor string
	Persister    Persister
	Logger       *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dependency_cycle"`
	Message string         `json:"message" example:"dependency cycle: contract a with depends_on [b]"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"contract_id\":\"a\"}"`
}

type actorKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type service struct {
	reg     *registry.Registry
	persist Persister
	logger  *slog.Logger
}

// New returns an HTTP handler exposing the contract registry.
func New(cfg Config) (http.Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("server: registry is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	defaultActor := cfg.DefaultActor
	if defaultActor == "" {
		defaultActor = "local-user"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

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
	router.Use(requestLogger(logger))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := strings.TrimSpace(r.Header.Get("X-Actor-ID"))
			if actor == "" {
				actor = defaultActor
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	})
	hcfg := huma.DefaultConfig("Contractline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := &service{reg: cfg.Registry, persist: cfg.Persister, logger: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, s)
	registerContracts(group, s)
	registerLifecycle(group, s)
	registerGraph(group, s)
	registerSearch(group, s)
	registerPlans(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			level := slog.LevelDebug
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
			)
		})
	}
}

func actorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return ""
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
	msg := err.Error()
	var (
		nf  *registry.NotFoundError
		te  *registry.TransitionError
		ce  *registry.CycleError
		de  *registry.DependentsError
		aee *registry.AlreadyExistsError
	)
	switch {
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", msg, map[string]any{"contract_id": nf.ID})
	case errors.As(err, &aee):
		return newAPIError(http.StatusConflict, "conflict", msg, map[string]any{"contract_id": aee.ID})
	case errors.As(err, &te):
		return newAPIError(http.StatusConflict, "illegal_transition", msg, map[string]any{
			"contract_id": te.ID,
			"from":        string(te.From),
			"to":          string(te.To),
		})
	case errors.As(err, &ce):
		return newAPIError(http.StatusUnprocessableEntity, "dependency_cycle", msg, map[string]any{
			"contract_id": ce.ContractID,
			"depends_on":  nonNilSlice(ce.DependsOn),
			"path":        nonNilSlice(ce.Path),
		})
	case errors.As(err, &de):
		return newAPIError(http.StatusConflict, "has_dependents", msg, map[string]any{
			"contract_id": de.ID,
			"dependents":  de.Dependents,
		})
	case errors.Is(err, registry.ErrInvalidContract):
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// committed persists the registry after a mutation and shapes the response.
func (s *service) committed(ctx context.Context, c domain.Contract, err error) (*contractOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	if s.persist != nil {
		if perr := s.persist.Persist(ctx); perr != nil {
			s.logger.Error("persist registry", "contract_id", c.ID, "error", perr)
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", "persist failed", map[string]any{"error": perr.Error()})
		}
	}
	res, err := contractResponse(c)
	if err != nil {
		return nil, s.encodeFailed(err)
	}
	return &contractOutput{Body: res}, nil
}

// contractList shapes a list of contracts as a paginated body.
func (s *service) contractList(cs []domain.Contract) (*struct {
	Body paginatedContracts `json:"body"`
}, error) {
	items, err := contractResponses(cs)
	if err != nil {
		return nil, s.encodeFailed(err)
	}
	return &struct {
		Body paginatedContracts `json:"body"`
	}{Body: paginatedContracts{Items: items}}, nil
}

func (s *service) encodeFailed(err error) huma.StatusError {
	s.logger.Error("encode response", "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "failed to encode response", nil)
}

type contractOutput struct {
	Body ContractResponse `json:"body"`
}

type contractPath struct {
	ContractID string `path:"contract_id"`
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once    sync.Once
		spec    []byte
		specErr error
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			spec, specErr = json.Marshal(oas)
		})
		if specErr != nil {
			http.Error(w, specErr.Error(), http.StatusInternalServerError)
			return
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Contractline API Docs</title>
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
      Set X-Actor-ID to record who performed a change.
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

func registerStatus(api huma.API, s *service) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Contract counts by lifecycle state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(s.reg.Summary())}, nil
	})
}
