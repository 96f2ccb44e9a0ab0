// Package server exposes the HTTP API: invoice intake, lookups, the
// reconciliation report and operational endpoints.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/taxbridge/internal/config"
	"github.com/smallbiznis/taxbridge/internal/fiscal"
	invoicedomain "github.com/smallbiznis/taxbridge/internal/invoice/domain"
	"github.com/smallbiznis/taxbridge/internal/providers/pdf"
	reconciliationdomain "github.com/smallbiznis/taxbridge/internal/reconciliation/domain"
	"github.com/smallbiznis/taxbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Params struct {
	fx.In

	Engine            *gin.Engine
	Log               *zap.Logger
	InvoiceSvc        invoicedomain.Service
	InvoiceRepo       invoicedomain.Repository
	ReconciliationSvc reconciliationdomain.Service
	PDF               pdf.Provider
}

type handlers struct {
	log               *zap.Logger
	invoiceSvc        invoicedomain.Service
	invoiceRepo       invoicedomain.Repository
	reconciliationSvc reconciliationdomain.Service
	pdf               pdf.Provider
}

func RegisterRoutes(p Params) {
	h := &handlers{
		log:               p.Log.Named("http.handlers"),
		invoiceSvc:        p.InvoiceSvc,
		invoiceRepo:       p.InvoiceRepo,
		reconciliationSvc: p.ReconciliationSvc,
		pdf:               p.PDF,
	}

	api := p.Engine.Group("/api/v1")
	api.POST("/invoices", h.createInvoice)
	api.GET("/invoices/:invoiceNumber", h.getInvoice)
	api.GET("/invoices/:invoiceNumber/pdf", h.getInvoicePDF)
	api.GET("/reconciliation/summary", h.reconciliationSummary)
}

func (h *handlers) createInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body"})
		return
	}

	inv, err := h.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *handlers) getInvoice(c *gin.Context) {
	inv, lines, err := h.invoiceSvc.GetByNumber(c.Request.Context(), c.Param("invoiceNumber"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invoice": inv,
		"lines":   lines,
	})
}

func (h *handlers) getInvoicePDF(c *gin.Context) {
	ctx := c.Request.Context()
	inv, lines, err := h.invoiceSvc.GetByNumber(ctx, c.Param("invoiceNumber"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	doc, err := h.pdf.RenderInvoice(ctx, inv, lines)
	if err != nil {
		h.renderError(c, err)
		return
	}
	payload, err := io.ReadAll(doc)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+inv.InvoiceNumber+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", payload)
}

func (h *handlers) reconciliationSummary(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_window"})
			return
		}
		window = parsed
	}

	summary, err := h.reconciliationSvc.Summarize(c.Request.Context(), window)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *handlers) renderError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrTerminalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, invoicedomain.ErrEmptyInvoice),
		errors.Is(err, invoicedomain.ErrInvalidBuyer),
		errors.Is(err, fiscal.ErrInvalidLineItem):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case db.IsDuplicateKeyErr(err):
		c.JSON(http.StatusConflict, gin.H{"error": "invoice_number_conflict"})
	default:
		h.log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
