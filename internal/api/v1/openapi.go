package apiv1

import (
	"context"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// DefaultSpecPath is where the public API document lives, relative to the
// working directory. Swagger serves the same file.
const DefaultSpecPath = "public/docs/v1/openapi.yml"

// LoadSpec reads and validates the OpenAPI document at path.
func LoadSpec(path string) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document %s: %w", path, err)
	}
	return doc, nil
}

// RequestValidator rejects requests whose parameters or body do not match
// the document. Routes the document does not describe pass through.
func RequestValidator(doc *openapi3.T) (fiber.Handler, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}
	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}

	return func(c *fiber.Ctx) error {
		req, err := adaptor.ConvertRequest(c, true)
		if err != nil {
			log.Errorf("[OpenAPI] Failed to convert request %s: %v", c.Path(), err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   "internal_error",
				"message": "Failed to read request",
			})
		}

		route, pathParams, err := router.FindRoute(req)
		if err != nil {
			return c.Next()
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
			Options:    options,
		}
		if err := openapi3filter.ValidateRequest(c.UserContext(), input); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "invalid_request",
				"message": validationMessage(err),
			})
		}
		return c.Next()
	}, nil
}

func validationMessage(err error) string {
	switch e := err.(type) {
	case *openapi3filter.RequestError:
		if e.Parameter != nil {
			return fmt.Sprintf("parameter %q: %s", e.Parameter.Name, e.Reason)
		}
		if e.Reason != "" {
			return e.Reason
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	case *routers.RouteError:
		return e.Reason
	}
	return err.Error()
}
