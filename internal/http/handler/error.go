package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"vimani/internal/errs"
	"vimani/internal/http/middleware"
)

// errorPayload is the JSON body of every HTTP error.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fallback codes for plain fiber errors
var statusCodes = map[int]errorEnvelope{
	fiber.StatusBadRequest:       {"BAD_REQUEST", "bad request"},
	fiber.StatusNotFound:         {"NOT_FOUND", "resource not found"},
	fiber.StatusMethodNotAllowed: {"METHOD_NOT_ALLOWED", "method not allowed"},
	fiber.StatusUpgradeRequired:  {"UPGRADE_REQUIRED", "websocket upgrade required"},
	fiber.StatusRequestTimeout:   {"TIMEOUT", "request timed out"},
}

// domain error codes that surface over HTTP with a status other than 500
var domainStatus = map[string]int{
	errs.CodeRegistryNotFound: fiber.StatusNotFound,
	errs.CodeInvalidMessage:   fiber.StatusBadRequest,
}

func requestIDFromCtx(c *fiber.Ctx) string {
	if s, ok := c.Locals(middleware.RequestIDLocalKey).(string); ok {
		return s
	}
	return ""
}

// writeError writes the error payload. message must be safe to show to clients.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(errorPayload{
		RequestID: requestIDFromCtx(c),
		Error:     errorEnvelope{Code: code, Message: message},
	})
}

// ErrorHandler turns errors escaping handlers into the error payload. Domain
// errors keep their code; anything unknown is logged and reported as
// INTERNAL_ERROR without details.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var domainErr *errs.Error
		if errors.As(err, &domainErr) {
			status, ok := domainStatus[domainErr.Envelope.Code]
			if !ok {
				status = fiber.StatusInternalServerError
			}
			return writeError(c, status, domainErr.Envelope.Code, domainErr.Envelope.Message)
		}

		status := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
		if env, ok := statusCodes[status]; ok {
			return writeError(c, status, env.Code, env.Message)
		}
		if fe != nil && status < fiber.StatusInternalServerError {
			return writeError(c, status, "REQUEST_ERROR", fe.Message)
		}

		log.Error().Err(err).
			Str("request_id", requestIDFromCtx(c)).
			Str("path", c.Path()).
			Msg("unhandled error")
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
