package server

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/knockturn/service/config"
	"github.com/brojonat/knockturn/service/db"
	"github.com/brojonat/knockturn/service/money"
	"github.com/google/uuid"
)

func testInvoiceConfig() *config.Config {
	return &config.Config{
		PublicURL:     "https://pay.example.com",
		NewPaymentTTL: 24 * time.Hour,
	}
}

func testPayment(status db.TransactionStatus, created time.Time) *db.Transaction {
	return &db.Transaction{
		ID:            uuid.MustParse("8f0b6c1e-4a43-4c2b-9b6e-2d8f1f0e9a11"),
		ExternalID:    "order-7",
		MerchantID:    "shop",
		Amount:        money.Money{Amount: 1250, Currency: money.EUR},
		GrinAmount:    3_500_000_000,
		Status:        status,
		Confirmations: 10,
		Message:       "order 7",
		Type:          db.TypePayment,
		CreatedAt:     created,
		UpdatedAt:     created,
	}
}

func TestNewInvoice(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	txn := testPayment(db.StatusNew, now.Add(-time.Hour))

	inv := newInvoice(testInvoiceConfig(), txn, now)

	if inv.TransactionID != txn.ID.String() {
		t.Errorf("Expected TransactionID %q, got %q", txn.ID, inv.TransactionID)
	}
	if inv.OrderID != "order-7" {
		t.Errorf("Expected OrderID order-7, got %q", inv.OrderID)
	}
	if inv.Amount != "12.50 EUR" {
		t.Errorf("Expected Amount 12.50 EUR, got %q", inv.Amount)
	}
	if inv.GrinDisplay != "3.500000000 GRIN" {
		t.Errorf("Expected GrinDisplay 3.500000000 GRIN, got %q", inv.GrinDisplay)
	}

	wantURL := "https://pay.example.com/merchants/shop/payments/" + txn.ID.String()
	if inv.PaymentURL != wantURL {
		t.Errorf("Expected PaymentURL %q, got %q", wantURL, inv.PaymentURL)
	}

	if inv.ExpiresAt == nil || !inv.ExpiresAt.Equal(now.Add(23*time.Hour)) {
		t.Errorf("Expected ExpiresAt %v, got %v", now.Add(23*time.Hour), inv.ExpiresAt)
	}
	if inv.SecondsUntilExpired == nil || *inv.SecondsUntilExpired != int64(23*3600) {
		t.Errorf("Expected 82800 seconds until expiry, got %v", inv.SecondsUntilExpired)
	}
	if inv.RequiredConfirmations != 10 {
		t.Errorf("Expected 10 required confirmations, got %d", inv.RequiredConfirmations)
	}
	if inv.QRCodeData == "" {
		t.Error("Expected QR code data")
	}
}

func TestNewInvoice_ExpiredClampsToZero(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	txn := testPayment(db.StatusNew, now.Add(-48*time.Hour))

	inv := newInvoice(testInvoiceConfig(), txn, now)
	if inv.SecondsUntilExpired == nil || *inv.SecondsUntilExpired != 0 {
		t.Errorf("Expected 0 seconds until expiry, got %v", inv.SecondsUntilExpired)
	}
}

func TestNewInvoice_OnlyNewPaymentsExpire(t *testing.T) {
	now := time.Now()
	for _, status := range []db.TransactionStatus{db.StatusPending, db.StatusConfirmed, db.StatusRejected} {
		inv := newInvoice(testInvoiceConfig(), testPayment(status, now), now)
		if inv.ExpiresAt != nil || inv.SecondsUntilExpired != nil {
			t.Errorf("status %s: expected no expiry, got %v", status, inv.ExpiresAt)
		}
		if inv.Status != string(status) {
			t.Errorf("Expected Status %q, got %q", status, inv.Status)
		}
	}
}

func TestBuildWalletLink(t *testing.T) {
	link := buildWalletLink(3_500_000_000, "https://pay.example.com/merchants/shop/payments/abc", "order 7")

	if !strings.HasPrefix(link, "grin://send?") {
		t.Fatalf("Expected grin://send? prefix, got %q", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("Failed to parse link: %v", err)
	}
	q := u.Query()

	if got := q.Get("amount"); got != "3500000000" {
		t.Errorf("Expected amount 3500000000, got %q", got)
	}
	if got := q.Get("destination"); got != "https://pay.example.com/merchants/shop/payments/abc" {
		t.Errorf("Unexpected destination %q", got)
	}
	msg, err := base64.StdEncoding.DecodeString(q.Get("message"))
	if err != nil {
		t.Fatalf("message is not base64: %v", err)
	}
	if string(msg) != "order 7" {
		t.Errorf("Expected message 'order 7', got %q", msg)
	}
}

func TestBuildPaymentURL_EscapesMerchant(t *testing.T) {
	got := buildPaymentURL("https://pay.example.com", "my shop", "abc")
	if got != "https://pay.example.com/merchants/my%20shop/payments/abc" {
		t.Errorf("Unexpected payment URL %q", got)
	}
}

func TestGenerateQRCode(t *testing.T) {
	data, err := generateQRCode("grin://send?amount=1")
	if err != nil {
		t.Fatalf("generateQRCode failed: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("QR code is not valid base64: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("QR code is not a valid PNG: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 256 || bounds.Dy() != 256 {
		t.Errorf("Expected 256x256 image, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestGenerateQRCode_DifferentLinksProduceDifferentCodes(t *testing.T) {
	a, err := generateQRCode(buildWalletLink(1, "https://a.example.com", "a"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := generateQRCode(buildWalletLink(2, "https://b.example.com", "b"))
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("Expected different QR codes for different links")
	}
}
