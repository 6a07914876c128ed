package dispatch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

// StatusFromHTTP maps a device's HTTP response code to the status reported
// to the hub.
func StatusFromHTTP(code int) ucapi.StatusCode {
	switch {
	case code >= 200 && code < 400:
		return ucapi.StatusOK
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ucapi.StatusUnauthorized
	case code == http.StatusNotFound:
		return ucapi.StatusNotFound
	case code == http.StatusRequestTimeout:
		return ucapi.StatusTimeout
	case code == http.StatusConflict:
		return ucapi.StatusConflict
	case code == http.StatusNotImplemented:
		return ucapi.StatusNotImplemented
	case code == http.StatusServiceUnavailable:
		return ucapi.StatusServiceUnavailable
	case code >= 400 && code < 500:
		return ucapi.StatusBadRequest
	default:
		return ucapi.StatusServerError
	}
}

// StatusFromError maps a transport error to a hub status.
func StatusFromError(err error) ucapi.StatusCode {
	if err == nil {
		return ucapi.StatusOK
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ucapi.StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ucapi.StatusTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return ucapi.StatusServiceUnavailable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ucapi.StatusServiceUnavailable
	}
	return ucapi.StatusServerError
}
