package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	billingoperationsdomain "github.com/smallbiznis/installments/internal/billingoperations/domain"
	"github.com/smallbiznis/installments/internal/config"
	dunningdomain "github.com/smallbiznis/installments/internal/dunning/domain"
	forecastdomain "github.com/smallbiznis/installments/internal/forecast/domain"
	installmentdomain "github.com/smallbiznis/installments/internal/installment/domain"
	obstracing "github.com/smallbiznis/installments/internal/observability/tracing"
	subscriptiondomain "github.com/smallbiznis/installments/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log.Named("http")))
	r.Use(obstracing.GinMiddleware(ctxRequestID))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine               *gin.Engine
	subscriptionSvc      subscriptiondomain.Service
	installmentSvc       installmentdomain.Service
	dunningSvc           dunningdomain.Service
	billingOperationsSvc billingoperationsdomain.Service
	forecastSvc          forecastdomain.Service
}

type ServerParams struct {
	fx.In

	Gin                  *gin.Engine
	SubscriptionSvc      subscriptiondomain.Service
	InstallmentSvc       installmentdomain.Service
	DunningSvc           dunningdomain.Service
	BillingOperationsSvc billingoperationsdomain.Service
	ForecastSvc          forecastdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:               p.Gin,
		subscriptionSvc:      p.SubscriptionSvc,
		installmentSvc:       p.InstallmentSvc,
		dunningSvc:           p.DunningSvc,
		billingOperationsSvc: p.BillingOperationsSvc,
		forecastSvc:          p.ForecastSvc,
	}
	svc.registerAPIRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	api.POST("/subscriptions", s.CreateSubscription)
	api.GET("/subscriptions", s.ListSubscriptions)
	api.GET("/subscriptions/:id", s.GetSubscriptionByID)
	api.POST("/subscriptions/:id/cancel", s.CancelSubscription)
	api.POST("/subscriptions/:id/pause", s.PauseSubscription)
	api.POST("/subscriptions/:id/resume", s.ResumeSubscription)
	api.POST("/subscriptions/:id/discount", s.ApplySubscriptionDiscount)
	api.DELETE("/subscriptions/:id/discount", s.RemoveSubscriptionDiscount)

	api.POST("/subscriptions/:id/installments", s.GenerateInstallments)
	api.GET("/subscriptions/:id/installments", s.ListSubscriptionInstallments)
	api.GET("/installments", s.ListClientInstallments)
	api.GET("/installments/pending", s.ListPendingInstallments)
	api.GET("/installments/overdue", s.ListOverdueInstallments)
	api.GET("/installments/:id", s.GetInstallmentByID)

	api.POST("/installments/:id/pay", s.ProcessPayment)
	api.POST("/installments/:id/fail", s.MarkPaymentFailed)
	api.POST("/installments/:id/schedule-retry", s.SchedulePaymentRetry)
	api.POST("/installments/:id/failed-payment-actions", s.HandleFailedPayment)
	api.POST("/installments/:id/irrecoverable", s.MarkIrrecoverable)

	api.GET("/failed-payments", s.ListFailedPayments)

	api.GET("/forecast/report", s.GetForecastReport)
	api.POST("/forecast/scenarios", s.GetForecastScenarios)
}
