//go:build !rtlsdr

package sdr

import (
	"fmt"

	"github.com/cadeo111/iqcapture/internal/logging"
)

func newRTLSDR(logging.Logger) (Receiver, error) {
	return nil, fmt.Errorf("%w: rtlsdr needs librtlsdr, rebuild with -tags rtlsdr", ErrBackendUnavailable)
}
