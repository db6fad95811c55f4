package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Response is the envelope of every JSON response
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func writeData(w http.ResponseWriter, r *http.Request, status int, message string, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: true, Message: message, Data: data})
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, Response{Success: status < 400, Message: message})
}

func writeValidation(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, Response{Message: "validation failed", Errors: validationErrorsToMap(err)})
}

// writeError maps service errors onto HTTP statuses
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var conflict *simpleimage.ConflictError
	switch {
	case errors.As(err, &conflict):
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, Response{
			Message: err.Error(),
			Data:    map[string]int{"reference_count": conflict.ReferenceCount},
		})
	case simpleimage.IsNotFound(err):
		writeMessage(w, r, http.StatusNotFound, err.Error())
	case simpleimage.IsConflict(err):
		writeMessage(w, r, http.StatusConflict, err.Error())
	case simpleimage.IsValidation(err):
		writeMessage(w, r, http.StatusBadRequest, err.Error())
	case simpleimage.IsUpstream(err):
		logger.Error("remote store failure", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusBadGateway, "image storage is unavailable")
	default:
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeMessage(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func validationErrorsToMap(err error) map[string]string {
	errs := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		errs["error"] = err.Error()
		return errs
	}
	for _, e := range verrs {
		field := e.Field()
		switch e.Tag() {
		case "required":
			errs[field] = "is required"
		case "max":
			errs[field] = "exceeds maximum length"
		case "min", "gt", "gte", "lte":
			errs[field] = "out of allowed range"
		case "oneof":
			errs[field] = "must be one of: " + e.Param()
		default:
			errs[field] = "invalid value"
		}
	}
	return errs
}
