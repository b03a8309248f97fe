package order

type Status string

const (
	// StatusPlaced is a cash on delivery order awaiting fulfilment.
	StatusPlaced Status = "placed"
	// StatusPaid is a card order whose payment was confirmed.
	StatusPaid Status = "paid"
)

func StatusFor(m PaymentMethod) Status {
	if m == PaymentCard {
		return StatusPaid
	}
	return StatusPlaced
}
