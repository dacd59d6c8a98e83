//go:build accelerate

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// Swaps in the system BLAS when built with `-tags accelerate`.
func init() {
	blas64.Use(netlib.Implementation{})
}
