package dispatch

import (
	"bytes"
	"fmt"
	"net"
	"strings"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

// magicPacket builds the 102 byte Wake-on-LAN payload for mac.
func magicPacket(mac net.HardwareAddr) ([]byte, error) {
	if len(mac) != 6 {
		return nil, fmt.Errorf("wake-on-lan needs a 48 bit mac, got %d bytes", len(mac))
	}
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{0xff}, 6))
	for range 16 {
		buf.Write(mac)
	}
	return buf.Bytes(), nil
}

// wakeOnLAN sends a magic packet to each comma separated mac in source.
func (d *Dispatcher) wakeOnLAN(source string) ucapi.StatusCode {
	var packets [][]byte
	for _, raw := range strings.Split(source, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		mac, err := net.ParseMAC(raw)
		if err != nil {
			d.log.Error("invalid mac address", "mac", raw, "error", err)
			return ucapi.StatusBadRequest
		}
		p, err := magicPacket(mac)
		if err != nil {
			d.log.Error("invalid mac address", "mac", raw, "error", err)
			return ucapi.StatusBadRequest
		}
		packets = append(packets, p)
	}
	if len(packets) == 0 {
		return ucapi.StatusBadRequest
	}

	addr, err := net.ResolveUDPAddr("udp4", d.WOLAddr)
	if err != nil {
		d.log.Error("invalid wake-on-lan address", "addr", d.WOLAddr, "error", err)
		return ucapi.StatusServerError
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		d.log.Error("open wake-on-lan socket failed", "error", err)
		return StatusFromError(err)
	}
	defer conn.Close()
	for _, p := range packets {
		if _, err := conn.Write(p); err != nil {
			d.log.Error("send magic packet failed", "error", err)
			return StatusFromError(err)
		}
	}
	d.log.Info("magic packets sent", "count", len(packets), "addr", d.WOLAddr)
	return ucapi.StatusOK
}
