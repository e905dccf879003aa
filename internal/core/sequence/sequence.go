package sequence

import (
	"context"
	"fmt"
)

// NumberWidth is the zero-padded width of a sequential number.
const NumberWidth = 9

// Allocator issues gap-free, collision-free numbers per (tenant, series).
// Implementations must run inside the transaction that creates the document so a
// rollback releases the number.
type Allocator interface {
	Allocate(ctx context.Context, tenantID, series string) (int64, error)
}

// Format renders a sequential number as a fixed-width string.
func Format(number int64) string {
	return fmt.Sprintf("%0*d", NumberWidth, number)
}

// FullNumber renders establishment-point-sequence, e.g. 001-002-000000123.
func FullNumber(establishment, point string, number int64) string {
	return fmt.Sprintf("%s-%s-%s", establishment, point, Format(number))
}
