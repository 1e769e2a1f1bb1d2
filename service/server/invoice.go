package server

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/fsm"
	"github.com/brojonat/knockturn/service/money"
)

// Invoice is what a payer needs to settle a payment from a Grin wallet.
type Invoice struct {
	TransactionID         string     `json:"transaction_id"`
	MerchantID            string     `json:"merchant_id"`
	OrderID               string     `json:"order_id"`
	Status                string     `json:"status"`
	Amount                string     `json:"amount"`
	GrinAmount            int64      `json:"grin_amount"`
	GrinDisplay           string     `json:"grin_display"`
	Message               string     `json:"message"`
	PaymentURL            string     `json:"payment_url"`  // where the payer's wallet sends the slate
	WalletLink            string     `json:"wallet_link"`  // grin:// deep link for mobile wallets
	QRCodeData            string     `json:"qr_code_data"` // base64 PNG of WalletLink
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	SecondsUntilExpired   *int64     `json:"seconds_until_expired,omitempty"`
	RequiredConfirmations int        `json:"required_confirmations"`
	Reported              bool       `json:"reported"`
	RedirectURL           *string    `json:"redirect_url,omitempty"`
}

// newInvoice builds the invoice for a payment. Only new payments expire.
func newInvoice(cfg *config.Config, txn *db.Transaction, now time.Time) Invoice {
	paymentURL := buildPaymentURL(cfg.PublicURL, txn.MerchantID, txn.ID.String())
	walletLink := buildWalletLink(txn.GrinAmount, paymentURL, txn.Message)

	qrCodeData, err := generateQRCode(walletLink)
	if err != nil {
		// QR code is optional
		qrCodeData = ""
	}

	inv := Invoice{
		TransactionID:         txn.ID.String(),
		MerchantID:            txn.MerchantID,
		OrderID:               txn.ExternalID,
		Status:                string(txn.Status),
		Amount:                txn.Amount.String(),
		GrinAmount:            txn.GrinAmount,
		GrinDisplay:           money.Grin(txn.GrinAmount).String(),
		Message:               txn.Message,
		PaymentURL:            paymentURL,
		WalletLink:            walletLink,
		QRCodeData:            qrCodeData,
		RequiredConfirmations: txn.Confirmations,
		Reported:              txn.Reported,
		RedirectURL:           txn.RedirectURL,
	}

	if txn.Status == db.StatusNew {
		expiresAt := txn.CreatedAt.Add(cfg.NewPaymentTTL)
		seconds := int64(expiresAt.Sub(now).Seconds())
		if seconds < 0 {
			seconds = 0
		}
		inv.ExpiresAt = &expiresAt
		inv.SecondsUntilExpired = &seconds
	}

	return inv
}

// buildPaymentURL returns the public payment page. Wallets append their
// foreign API path to it when posting the slate.
func buildPaymentURL(publicURL, merchantID, transactionID string) string {
	return fmt.Sprintf("%s/merchants/%s/payments/%s", publicURL, url.PathEscape(merchantID), transactionID)
}

// buildWalletLink creates a grin:// send link.
// Format: grin://send?amount={nanogrin}&destination={url}&message={base64 message}
func buildWalletLink(grinAmount int64, destination, message string) string {
	params := url.Values{}
	params.Set("amount", fmt.Sprintf("%d", grinAmount))
	params.Set("destination", destination)
	params.Set("message", base64.StdEncoding.EncodeToString([]byte(message)))
	return "grin://send?" + params.Encode()
}

// generateQRCode creates a QR code image from a link and returns it as base64-encoded PNG.
func generateQRCode(data string) (string, error) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(256)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code as PNG: %w", err)
	}

	return base64.StdEncoding.EncodeToString(png), nil
}

// handleGetInvoice returns the payer-facing invoice for a payment.
// GET /api/v1/merchants/{merchant_id}/payments/{id}/invoice
func handleGetInvoice(payments *fsm.PaymentMachine, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseTransactionID(w, r)
		if !ok {
			return
		}

		txn, err := payments.GetPayment(r.Context(), r.PathValue("merchant_id"), id)
		if err != nil {
			writeMachineError(w, logger, "get invoice", err)
			return
		}

		writeJSON(w, newInvoice(cfg, txn, time.Now()), http.StatusOK)
	})
}
