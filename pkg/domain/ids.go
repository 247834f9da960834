// Package domain holds primitives shared by every record kind.
package domain

import (
	"strconv"
	"strings"

	dErrors "bloodlink/pkg/domain-errors"
)

// ID identifies a hospital, patient or donor. All three kinds draw from one
// identifier space, so a donor's beneficiary list can hold patient and
// hospital ids side by side.
//
// Invariant: ids are issued by the storage sequence in strictly increasing
// order and are never reused.
type ID uint64

// maxIDDigits is the decimal width of math.MaxUint64.
const maxIDDigits = 20

func (i ID) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// ParseID validates a decimal id at a trust boundary.
func ParseID(s string) (ID, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidPayload, "id is required")
	}
	if len(s) > maxIDDigits || strings.TrimLeft(s, "0123456789") != "" {
		return 0, dErrors.New(dErrors.CodeInvalidPayload, "id must be a non-negative decimal integer")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidPayload, "id out of range")
	}
	return ID(v), nil
}
