package rest

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/hubcart/internal/domain"
)

// ContentTypeProblemJSON — медиатип ответов об ошибках (RFC 7807).
const ContentTypeProblemJSON = "application/problem+json"

// Типы проблем.
const (
	TypeValidation        = "/problems/validation-error"
	TypeBadRequest        = "/problems/bad-request"
	TypeNotFound          = "/problems/not-found"
	TypePrecondition      = "/problems/precondition-failed"
	TypeCheckoutGuard     = "/problems/checkout-guard"
	TypeInsufficientStock = "/problems/insufficient-stock"
	TypeConflict          = "/problems/conflict"
	TypeIdempotency       = "/problems/idempotency"
	TypeUnavailable       = "/problems/unavailable"
	TypeTimeout           = "/problems/timeout"
	TypeTooManyRequests   = "/problems/too-many-requests"
	TypeInternal          = "/problems/internal-error"
)

// statusClientClosedRequest — клиент закрыл соединение до ответа.
const statusClientClosedRequest = 499

// ProblemDetail — тело ответа об ошибке.
type ProblemDetail struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Status     int                    `json:"status"`
	Detail     string                 `json:"detail,omitempty"`
	Instance   string                 `json:"instance,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

func (p ProblemDetail) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// WithDetail возвращает копию с текстом ошибки.
func (p ProblemDetail) WithDetail(detail string) ProblemDetail {
	p.Detail = detail
	return p
}

// WithExtension возвращает копию с дополнительным свойством.
func (p ProblemDetail) WithExtension(key string, value interface{}) ProblemDetail {
	ext := make(map[string]interface{}, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		ext[k] = v
	}
	ext[key] = value
	p.Extensions = ext
	return p
}

var (
	errValidation = ProblemDetail{Type: TypeValidation, Title: "Validation Error", Status: http.StatusBadRequest}
	errBadRequest = ProblemDetail{Type: TypeBadRequest, Title: "Bad Request", Status: http.StatusBadRequest}
	errNotFound   = ProblemDetail{Type: TypeNotFound, Title: "Resource Not Found", Status: http.StatusNotFound}
	errInternal   = ProblemDetail{Type: TypeInternal, Title: "Internal Server Error", Status: http.StatusInternalServerError}
	errRateLimit  = ProblemDetail{Type: TypeTooManyRequests, Title: "Too Many Requests", Status: http.StatusTooManyRequests}
)

var kindProblems = map[domain.ErrorKind]ProblemDetail{
	domain.KindInvalid:      errValidation,
	domain.KindNotFound:     errNotFound,
	domain.KindPrecondition: {Type: TypePrecondition, Title: "Precondition Failed", Status: http.StatusUnprocessableEntity},
	domain.KindConflict:     {Type: TypeConflict, Title: "Conflict", Status: http.StatusConflict},
	domain.KindUnavailable:  {Type: TypeUnavailable, Title: "Service Unavailable", Status: http.StatusServiceUnavailable},
	domain.KindDuplicate:    {Type: TypeIdempotency, Title: "Idempotency Key Reused", Status: http.StatusUnprocessableEntity},
	domain.KindCanceled:     {Type: TypeTimeout, Title: "Request Canceled", Status: statusClientClosedRequest},
	domain.KindTimeout:      {Type: TypeTimeout, Title: "Request Timeout", Status: http.StatusGatewayTimeout},
}

// problemFor переводит ошибку в ProblemDetail. ok=false — ошибка внутренняя
// и её текст не отдаётся клиенту.
func problemFor(err error) (ProblemDetail, bool) {
	var problem ProblemDetail
	if errors.As(err, &problem) {
		return problem, true
	}
	var guardErr *domain.GuardError
	if errors.As(err, &guardErr) {
		return guardProblem(guardErr), true
	}
	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		return stockProblem(stockErr), true
	}
	if p, ok := kindProblems[domain.KindOf(err)]; ok {
		return p.WithDetail(err.Error()), true
	}
	return errInternal.WithDetail("internal error"), false
}

// guardProblem — отказ шага оформления в виде {errors, flash} с целью перехода.
func guardProblem(ge *domain.GuardError) ProblemDetail {
	p := ProblemDetail{
		Type:   TypeCheckoutGuard,
		Title:  "Checkout Step Rejected",
		Status: http.StatusUnprocessableEntity,
		Detail: ge.Error(),
	}
	p = p.WithExtension("state", string(ge.State))
	if ge.Redirect != "" {
		p = p.WithExtension("redirect", string(ge.Redirect))
	}
	if ge.RedirectTo != "" {
		p = p.WithExtension("redirect_to", ge.RedirectTo)
	}
	if ge.Flash != "" {
		p = p.WithExtension("flash", ge.Flash)
	}
	if len(ge.Fields) > 0 {
		p = p.WithExtension("errors", ge.Fields)
	}
	if ge.WindowClosesAt != nil {
		p = p.WithExtension("window_closes_at", ge.WindowClosesAt.UTC().Format(time.RFC3339))
	}
	return p
}

type shortageView struct {
	VariantID string `json:"variant_id"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func stockProblem(se *domain.StockError) ProblemDetail {
	lines := make([]shortageView, 0, len(se.Lines))
	for _, l := range se.Lines {
		lines = append(lines, shortageView{VariantID: l.VariantID, Requested: l.Requested, Available: l.Available})
	}
	return ProblemDetail{
		Type:   TypeInsufficientStock,
		Title:  "Insufficient Stock",
		Status: http.StatusConflict,
		Detail: se.Error(),
	}.WithExtension("lines", lines)
}

// respondProblem пишет ProblemDetail; instance — путь запроса.
func respondProblem(c *gin.Context, problem ProblemDetail) {
	if problem.Instance == "" {
		problem.Instance = c.Request.URL.Path
	}
	c.Header("Content-Type", ContentTypeProblemJSON)
	c.AbortWithStatusJSON(problem.Status, problem)
}
