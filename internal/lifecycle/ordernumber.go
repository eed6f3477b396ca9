package lifecycle

import "fmt"

// FormatOrderNumber renders the customer-facing form of a sequence value.
func FormatOrderNumber(n int64) string {
	return fmt.Sprintf("ORD-%06d", n)
}
