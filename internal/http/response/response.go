// Package response содержит унифицированный JSON-ответ HTTP-обработчиков:
// статус success или error, сообщение и данные.
package response

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator"
)

const (
	// StatusSuccess значение статуса для успешного ответа.
	StatusSuccess = "success"
	// StatusError значение статуса для ответа с ошибкой.
	StatusError = "error"
)

// Response стандартная структура ответа.
type Response struct {
	Status  string `json:"status" example:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK возвращает успешный Response.
func OK(message string, data any) Response {
	return Response{
		Status:  StatusSuccess,
		Message: message,
		Data:    data,
	}
}

// Error возвращает Response с ошибкой.
func Error(msg string) Response {
	return Response{
		Status:  StatusError,
		Message: msg,
	}
}

// ErrorWithData ошибка с дополнительными полями.
func ErrorWithData(msg string, data any) Response {
	return Response{
		Status:  StatusError,
		Message: msg,
		Data:    data,
	}
}

// JSON пишет код ответа и тело.
func JSON(w http.ResponseWriter, r *http.Request, code int, resp Response) {
	render.Status(r, code)
	render.JSON(w, r, resp)
}

// ValidationError формирует ответ по ошибкам валидации, нарушения перечисляются через запятую.
func ValidationError(errs validator.ValidationErrors) Response {
	var errsMsgs []string

	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is a required field", err.Field()))
		case "numeric":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only numbers", err.Field()))
		case "max":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is too long", err.Field()))
		case "printascii":
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s can contain only printable characters", err.Field()))
		default:
			errsMsgs = append(errsMsgs, fmt.Sprintf("field %s is not a valid", err.Field()))
		}
	}
	return Response{
		Status:  StatusError,
		Message: strings.Join(errsMsgs, ", "),
	}
}
