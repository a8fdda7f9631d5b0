// Package parcel validates and builds NYC borough/block/lot parcel
// identifiers (BBL), encoded as one borough digit, a five digit block and a
// four digit lot.
package parcel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Length is the number of digits in a parcel identifier.
const Length = 10

var (
	// ErrInvalidParcelID is returned for identifiers that are not 10 digits.
	ErrInvalidParcelID = errors.New("please enter a valid 10-digit parcel ID")

	// ErrMissingBBL is returned when a borough, block or lot is empty.
	ErrMissingBBL = errors.New("missing BBL")

	// ErrInvalidBBL is returned when a borough, block or lot is out of range.
	ErrInvalidBBL = errors.New("invalid BBL")
)

// ID is a validated 10 digit parcel identifier.
type ID string

var boroughAbbr = map[byte]string{
	'1': "MN",
	'2': "BX",
	'3': "BK",
	'4': "QN",
	'5': "SI",
}

// Parse validates a parcel identifier entered directly.
func Parse(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if len(s) != Length || !isDigits(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidParcelID, s)
	}
	return ID(s), nil
}

// FromBBL builds an identifier from borough, block and lot inputs, zero
// padding block to 5 and lot to 4 digits.
func FromBBL(boro, block, lot string) (ID, error) {
	boro = strings.TrimSpace(boro)
	block = strings.TrimSpace(block)
	lot = strings.TrimSpace(lot)

	if boro == "" || block == "" || lot == "" {
		return "", ErrMissingBBL
	}
	if len(boro) != 1 || boro[0] < '1' || boro[0] > '5' {
		return "", fmt.Errorf("%w: borough %q must be 1-5", ErrInvalidBBL, boro)
	}
	if len(block) > 5 || !isDigits(block) {
		return "", fmt.Errorf("%w: block %q must be up to 5 digits", ErrInvalidBBL, block)
	}
	if len(lot) > 4 || !isDigits(lot) {
		return "", fmt.Errorf("%w: lot %q must be up to 4 digits", ErrInvalidBBL, lot)
	}

	return ID(boro + leftPad(block, 5) + leftPad(lot, 4)), nil
}

// String returns the identifier.
func (id ID) String() string {
	return string(id)
}

// Borough returns the borough digit.
func (id ID) Borough() string {
	if len(id) != Length {
		return ""
	}
	return string(id[0])
}

// BoroughAbbr returns the two letter borough code used by PLUTO.
func (id ID) BoroughAbbr() string {
	if len(id) != Length {
		return ""
	}
	return boroughAbbr[id[0]]
}

// Block returns the zero padded block.
func (id ID) Block() string {
	if len(id) != Length {
		return ""
	}
	return string(id[1:6])
}

// Lot returns the zero padded lot.
func (id ID) Lot() string {
	if len(id) != Length {
		return ""
	}
	return string(id[6:])
}

// BlockNumber returns the block without padding.
func (id ID) BlockNumber() int {
	n, _ := strconv.Atoi(id.Block())
	return n
}

// LotNumber returns the lot without padding.
func (id ID) LotNumber() int {
	n, _ := strconv.Atoi(id.Lot())
	return n
}

// Number returns the identifier as an integer, as PLUTO stores it.
func (id ID) Number() int64 {
	n, _ := strconv.ParseInt(string(id), 10, 64)
	return n
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
