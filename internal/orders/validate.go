package orders

import "strings"

const minAddressLen = 5

var paymentMethods = map[string]bool{
	"cash":   true,
	"card":   true,
	"online": true,
}

// ValidateCart checks structural validity only: no I/O, no stock check
// (stock is checked atomically at reservation time). Returns the
// normalized (lowercased) payment method on success.
func ValidateCart(cart Cart, deliveryAddress, paymentMethod string) (string, error) {
	if len(cart) == 0 {
		return "", &ValidationError{Field: "cart", Reason: "must not be empty"}
	}
	for pid, qty := range cart {
		if pid == "" {
			return "", &ValidationError{Field: "cart", Reason: "empty product id"}
		}
		if qty <= 0 {
			return "", &ValidationError{Field: "cart", Reason: "quantity for product " + pid + " must be > 0"}
		}
	}
	if len(strings.TrimSpace(deliveryAddress)) < minAddressLen {
		return "", &ValidationError{Field: "delivery_address", Reason: "must be at least 5 characters"}
	}
	method := strings.ToLower(strings.TrimSpace(paymentMethod))
	if !paymentMethods[method] {
		return "", &ValidationError{Field: "payment_method", Reason: "must be one of cash, card, online"}
	}
	return method, nil
}
