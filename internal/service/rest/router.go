package rest

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// RouterConfig — необязательные части маршрутизатора.
type RouterConfig struct {
	// ServiceName — имя сервиса в спанах otelgin.
	ServiceName    string
	TracerProvider trace.TracerProvider
	// Limiter — nil отключает ограничение частоты.
	Limiter Limiter
}

var registerTagNames sync.Once

// NewRouter собирает gin.Engine с маршрутами /api/v1.
func NewRouter(h *Handler, cfg RouterConfig) *gin.Engine {
	registerTagNames.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(jsonFieldName)
		}
	})

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "hubcart"
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		h.logger.WithField("panic", recovered).Error("http handler panicked")
		respondProblem(c, errInternal.WithDetail("internal error"))
	}))
	var otelOpts []otelgin.Option
	if cfg.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(cfg.TracerProvider))
	}
	router.Use(otelgin.Middleware(serviceName, otelOpts...))
	router.Use(requestLogger(h.logger))

	router.NoRoute(func(c *gin.Context) {
		respondProblem(c, errNotFound.WithDetail("no route for "+c.Request.Method+" "+c.Request.URL.Path))
	})

	api := router.Group("/api/v1")
	if cfg.Limiter != nil {
		api.Use(RateLimit(cfg.Limiter, h.logger))
	}
	{
		api.POST("/orders", h.idempotent("CreateOrder", h.createOrder))
		api.GET("/orders/:order_id", h.serve("GetOrder", h.getOrder))
		api.PUT("/orders/:order_id/distribution", h.serve("Bind", h.bind))
		api.PUT("/orders/:order_id/customer", h.serve("AssociateCustomer", h.associateCustomer))
		api.POST("/orders/:order_id/cart", h.serve("PopulateCart", h.populate))
		api.DELETE("/orders/:order_id/cart", h.serve("EmptyCart", h.emptyCart))
		api.DELETE("/orders/:order_id/line_items/:line_item_id", h.serve("RemoveLineItem", h.removeLineItem))
		api.POST("/orders/:order_id/checkout", h.idempotent("Checkout", h.checkout))
		api.POST("/orders/:order_id/vouchers", h.idempotent("ApplyVoucher", h.applyVoucher))
		api.DELETE("/orders/:order_id/vouchers/:adjustment_id", h.serve("RemoveVoucher", h.removeVoucher))
		api.POST("/orders/:order_id/cancel", h.idempotent("CancelOrder", h.cancel))
		api.GET("/orders/:order_id/timeline", h.serve("GetTimeline", h.timeline))
	}
	return router
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Warn("http request")
			return
		}
		entry.Debug("http request")
	}
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
