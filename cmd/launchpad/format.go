package main

import (
	"github.com/holiman/uint256"

	"github.com/rovshanmuradov/launchpad/internal/domain"
)

// units renders base units as a whole-unit decimal string.
func units(x *uint256.Int, decimals uint8) string {
	if x == nil {
		return ""
	}
	return domain.ToDecimal(x, decimals).String()
}
