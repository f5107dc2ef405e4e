package httpadapter

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

//go:embed openapi.yaml
var openAPISpec []byte

func loadOpenAPIRouter() (routers.Router, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openAPISpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	return router, nil
}

// openAPIValidationMiddleware checks path and query parameters against the
// embedded document. Bodies are left to the handlers since uploads are
// multipart streams. Paths the document does not describe pass through.
func openAPIValidationMiddleware(router routers.Router) func(http.Handler) http.Handler {
	options := &openapi3filter.Options{
		ExcludeRequestBody: true,
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				writeError(w, http.StatusBadRequest, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validationMessage(err error) string {
	switch e := err.(type) {
	case *openapi3filter.RequestError:
		if e.Parameter != nil && e.Err != nil {
			return fmt.Sprintf("invalid %s parameter %q: %v", e.Parameter.In, e.Parameter.Name, e.Err)
		}
		return e.Error()
	default:
		return err.Error()
	}
}
