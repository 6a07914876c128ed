package ucapi

import (
	"github.com/grandcat/zeroconf"
)

const mdnsService = "_uc-integration._tcp"

func publishMDNS(driverID, name, version string, port int) (func(), error) {
	txt := []string{"name=" + name, "ver=" + version, "developer=intg-requests"}
	srv, err := zeroconf.Register(driverID, mdnsService, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return srv.Shutdown, nil
}
