package dispatch

import (
	"context"
	"net"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

// sendTCPText writes the text of a "host:port,text" source to the address.
func (d *Dispatcher) sendTCPText(ctx context.Context, source string) ucapi.StatusCode {
	addr, text := splitOnce(source, ",")
	if _, _, err := net.SplitHostPort(addr); err != nil || text == "" {
		d.log.Error("invalid tcp text source, expected host:port,text", "source", source)
		return ucapi.StatusBadRequest
	}

	ctx, cancel := context.WithTimeout(ctx, d.seconds(setup.KeyTCPTimeout, 2))
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		code := StatusFromError(err)
		d.log.Error("tcp connect failed", "addr", addr, "status", code, "error", err)
		return code
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write([]byte(text)); err != nil {
		code := StatusFromError(err)
		d.log.Error("tcp write failed", "addr", addr, "status", code, "error", err)
		return code
	}
	d.log.Info("tcp text sent", "addr", addr, "bytes", len(text))
	return ucapi.StatusOK
}
