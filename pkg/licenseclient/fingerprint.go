package licenseclient

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"runtime"
)

// machineIDPaths are tried in order; on platforms where none exists the
// fingerprint falls back to hostname plus hardware address.
var machineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Fingerprint derives a stable, opaque device identifier: SHA-256 over
// the OS machine id, hostname, primary MAC address and platform. The
// server never reverses it; it only compares for equality.
func Fingerprint() string {
	h := sha256.New()

	if id := readMachineID(); id != "" {
		h.Write([]byte(id))
	}

	if hostname, err := os.Hostname(); err == nil {
		h.Write([]byte(hostname))
	}

	if mac := primaryMAC(); mac != "" {
		h.Write([]byte(mac))
	}

	h.Write([]byte(runtime.GOOS))
	h.Write([]byte(runtime.GOARCH))

	return hex.EncodeToString(h.Sum(nil))
}

func readMachineID() string {
	for _, path := range machineIDPaths {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return ""
}

func primaryMAC() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac
		}
	}
	return ""
}
