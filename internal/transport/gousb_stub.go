//go:build !gousb
// +build !gousb

package transport

import "fmt"

// NewGousbTransport is available when built with -tags gousb.
func NewGousbTransport() (Transport, error) {
	return nil, fmt.Errorf("gousb transport not enabled; build with -tags gousb")
}
