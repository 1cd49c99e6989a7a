package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusReady: true},
	StatusReady:     {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Cancellable reports whether an order in this status may still be
// cancelled (and its stock restored). preparing and later are past the
// point of no return.
func Cancellable(s Status) bool {
	return s == StatusPending || s == StatusConfirmed
}

func ValidStatus(s Status) bool {
	_, ok := validNext[s]
	return ok
}

// PaymentStatus is an independent axis; a refund does not revert the
// order status by itself.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

var validNextPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentPending:  {PaymentPaid: true},
	PaymentPaid:     {PaymentRefunded: true},
	PaymentRefunded: {},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return validNextPayment[from][to]
}

func ValidPaymentStatus(s PaymentStatus) bool {
	_, ok := validNextPayment[s]
	return ok
}
