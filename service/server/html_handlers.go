package server

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/fsm"
)

//go:embed templates/*.html
var templatesFS embed.FS

// TemplateRenderer executes the embedded payer-facing pages.
type TemplateRenderer struct {
	templates *template.Template
}

// NewTemplateRenderer parses the embedded templates.
func NewTemplateRenderer() (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"safeURL": func(s string) template.URL { return template.URL(s) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return &TemplateRenderer{templates: tmpl}, nil
}

// Render executes name into a buffer and writes it only if execution
// succeeded, so a failing template never sends a partial page.
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := tr.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

// handlePaymentPage serves the page a payer opens to settle a payment.
// GET /merchants/{merchant_id}/payments/{id}
func handlePaymentPage(payments *fsm.PaymentMachine, renderer *TemplateRenderer, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		txn, err := payments.GetPayment(r.Context(), r.PathValue("merchant_id"), id)
		if err != nil {
			writeMachineError(w, logger, "payment page", err)
			return
		}

		if err := renderer.Render(w, "payment.html", newInvoice(cfg, txn, time.Now())); err != nil {
			logger.Error("failed to render payment page", "transaction_id", id, "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	})
}
