package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"payment-svc/models"
)

// Config holds the PayHere merchant account settings. The secret never leaves
// this package; handlers only see computed hashes.
type Config struct {
	MerchantID     string `mapstructure:"merchant_id"`
	MerchantSecret string `mapstructure:"merchant_secret"`
	Currency       string `mapstructure:"currency"`
	ReturnURL      string `mapstructure:"return_url"`
	CancelURL      string `mapstructure:"cancel_url"`
	NotifyURL      string `mapstructure:"notify_url"`
}

// CheckoutParams is the field set the browser posts to the PayHere checkout
// page. Field names follow the gateway's wire format.
type CheckoutParams struct {
	MerchantID string `json:"merchant_id"`
	ReturnURL  string `json:"return_url"`
	CancelURL  string `json:"cancel_url"`
	NotifyURL  string `json:"notify_url"`
	OrderID    string `json:"order_id"`
	Items      string `json:"items"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Hash       string `json:"hash"`
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

// BuildCheckoutParams maps an order into the gateway's checkout fields. The
// hash is MD5(merchant_id + order_id + amount + currency + MD5(secret)) with
// both digests uppercased, which is what PayHere recomputes on its side.
func (a *Adapter) BuildCheckoutParams(order models.Order, itemDesc string) CheckoutParams {
	amount := FormatAmount(order.AmountCents)
	first, last := splitName(order.DonorName)

	return CheckoutParams{
		MerchantID: a.cfg.MerchantID,
		ReturnURL:  a.cfg.ReturnURL,
		CancelURL:  a.cfg.CancelURL,
		NotifyURL:  a.cfg.NotifyURL,
		OrderID:    order.ExternalOrderID,
		Items:      itemDesc,
		Amount:     amount,
		Currency:   a.cfg.Currency,
		FirstName:  first,
		LastName:   last,
		Email:      order.DonorEmail,
		Hash:       a.checkoutHash(order.ExternalOrderID, amount),
	}
}

// VerifyNotification recomputes the webhook signature from the echoed fields
// and compares it to md5sig. Any missing field or malformed amount fails
// closed: the caller must reject the event without touching the ledger.
func (a *Adapter) VerifyNotification(n models.CheckoutNotification) bool {
	if n.MerchantID == "" || n.OrderID == "" || n.PayhereAmount == "" ||
		n.PayhereCurrency == "" || n.StatusCode == "" || n.MD5Sig == "" {
		return false
	}
	if n.MerchantID != a.cfg.MerchantID {
		return false
	}
	if _, err := ParseAmount(n.PayhereAmount); err != nil {
		return false
	}

	local := upperMD5(n.MerchantID + n.OrderID + n.PayhereAmount + n.PayhereCurrency +
		n.StatusCode + upperMD5(a.cfg.MerchantSecret))
	return strings.EqualFold(local, n.MD5Sig)
}

func (a *Adapter) checkoutHash(orderID, amount string) string {
	return upperMD5(a.cfg.MerchantID + orderID + amount + a.cfg.Currency +
		upperMD5(a.cfg.MerchantSecret))
}

func upperMD5(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// FormatAmount renders minor units as the gateway's "1234.50" form: two
// decimals, dot separator, no thousands grouping.
func FormatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// ParseAmount is the strict inverse of FormatAmount. PayHere always echoes
// amounts with exactly two decimals; anything else is treated as malformed.
func ParseAmount(s string) (int64, error) {
	whole, frac, ok := strings.Cut(s, ".")
	if !ok || len(frac) != 2 {
		return 0, fmt.Errorf("amount %q is not in two-decimal form", s)
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return w*100 + f, nil
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "Anonymous", "Donor"
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
