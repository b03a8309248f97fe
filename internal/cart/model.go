package cart

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be a non-negative integer")
	ErrAlreadyReconciled = errors.New("cart already reconciled for this login")
)

// LineItemKey identifies one line of a cart. An empty Variant means the
// product has no variant (size, colour) selected.
type LineItemKey struct {
	ProductID int64  `json:"productId"`
	Variant   string `json:"variant,omitempty"`
}

// String is for logs only.
func (k LineItemKey) String() string {
	id := strconv.FormatInt(k.ProductID, 10)
	if k.Variant == "" {
		return id
	}
	return id + ":" + k.Variant
}

type Entry struct {
	Key      LineItemKey `json:"key"`
	Quantity int         `json:"quantity"`
}

type Mode int

const (
	ModeLocal Mode = iota
	ModeSynced
)

func (m Mode) String() string {
	switch m {
	case ModeSynced:
		return "synced"
	default:
		return "local"
	}
}
