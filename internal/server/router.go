// Package server exposes the voucher services over HTTP: the connect admin
// API and the public chi routes for lookup, QR images and the subscriber
// webhook.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kkkkikiki/voucher/api/voucher/v1/voucherv1connect"
	"github.com/kkkkikiki/voucher/internal/cache"
	"github.com/kkkkikiki/voucher/internal/config"
	"github.com/kkkkikiki/voucher/internal/service"
)

// Services bundles the domain services behind the HTTP surface.
type Services struct {
	Issuer    *service.Issuer
	Redeemer  *service.RedemptionService
	Assigner  *service.AssignmentService
	Campaigns *service.CampaignService
}

// NewRouter builds the full HTTP handler.
func NewRouter(cfg *config.Config, svc Services, qrCache cache.QRCache, logger *zap.Logger) (http.Handler, error) {
	qr, err := NewQRHandler(cfg.QR, qrCache, logger)
	if err != nil {
		return nil, err
	}
	public := NewPublicHandler(svc.Campaigns, logger)
	webhook := NewWebhookHandler(svc.Assigner, cfg.Webhook.Secret, logger)
	adminPath, admin := voucherv1connect.NewVoucherAdminServiceHandler(NewAdminServer(svc, logger))

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))

	r.Get("/health", health)
	r.Get("/health/db", dbHealth(svc.Campaigns.Ping))
	r.Handle("/metrics", promhttp.Handler())

	r.Mount(strings.TrimSuffix(adminPath, "/"), admin)

	r.Group(func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}).Handler)

		r.Get("/v1/vouchers/{code}", public.GetVoucher)
		r.Options("/v1/vouchers/{code}", noContent)
		r.Get("/v1/vouchers/{code}/qr.png", qr.ServeHTTP)
		r.Options("/v1/vouchers/{code}/qr.png", noContent)

		r.Get("/v1/webhooks/subscriber", webhook.Verify)
		r.Post("/v1/webhooks/subscriber", webhook.Receive)
	})

	return r, nil
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusNoContent)
}

func health(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"voucher-system","hostname":%q}`, hostname)
}

func dbHealth(ping func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","store":"connected"}`))
	}
}
