package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
	"github.com/vladislavdragonenkov/hubcart/internal/service/idempotency"
)

// Заголовки идемпотентных запросов.
const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
	contentTypeJSON          = "application/json; charset=utf-8"
)

// idempotent выполняет endpoint под ключом из заголовка Idempotency-Key.
// Отпечаток запроса — метод, путь и сырое тело. Повтор получает сохранённые
// статус и тело, включая ответ об ошибке.
func (h *Handler) idempotent(op string, fn endpoint) gin.HandlerFunc {
	plain := h.serve(op, fn)
	return func(c *gin.Context) {
		if !h.idem.Enabled() {
			plain(c)
			return
		}
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			respondProblem(c, errBadRequest.WithDetail("failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		hash := idempotency.RequestHash(c.Request.Method+" "+c.Request.URL.Path, raw)

		resp, replayed, err := h.idem.Run(c.Request.Context(), op, c.GetHeader(IdempotencyKeyHeader), hash,
			func(context.Context) (idempotency.Response, error) {
				status, body, runErr := fn(c)
				if runErr != nil {
					problem, _ := problemFor(runErr)
					problem.Instance = c.Request.URL.Path
					data, _ := json.Marshal(problem)
					return idempotency.Response{Status: problem.Status, Body: data}, runErr
				}
				data, mErr := json.Marshal(body)
				if mErr != nil {
					return idempotency.Response{Status: http.StatusInternalServerError}, mErr
				}
				return idempotency.Response{Status: status, Body: data}, nil
			})

		switch {
		case err == nil:
			if replayed {
				c.Header(IdempotentReplayedHeader, "true")
			}
			c.Data(resp.Status, contentTypeJSON, resp.Body)
		case errors.Is(err, idempotency.ErrPreviousFailure):
			c.Header(IdempotentReplayedHeader, "true")
			if len(resp.Body) == 0 || resp.Status == 0 {
				respondProblem(c, errInternal.WithDetail(err.Error()))
				return
			}
			c.Data(resp.Status, ContentTypeProblemJSON, resp.Body)
		case errors.Is(err, domain.ErrIdempotencyKeyRequired):
			respondProblem(c, ProblemDetail{
				Type:   TypeIdempotency,
				Title:  "Idempotency Key Required",
				Status: http.StatusBadRequest,
				Detail: IdempotencyKeyHeader + " header is required",
			})
		case errors.Is(err, idempotency.ErrRequestInProgress):
			respondProblem(c, ProblemDetail{
				Type:   TypeIdempotency,
				Title:  "Request In Progress",
				Status: http.StatusConflict,
				Detail: err.Error(),
			})
		default:
			h.fail(c, op, err)
		}
	}
}
