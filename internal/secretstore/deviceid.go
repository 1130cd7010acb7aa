package secretstore

import (
	"errors"
	"os"
	"strings"
)

// DeviceIDSource 依次尝试：配置覆盖 -> /etc/machine-id -> DMI product_uuid
type DeviceIDSource struct {
	Override string
	Paths    []string
}

var defaultIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

var ErrNoDeviceID = errors.New("secretstore: no stable device id found")

func (s DeviceIDSource) DeviceID() (string, error) {
	if id := strings.TrimSpace(s.Override); id != "" {
		return id, nil
	}
	paths := s.Paths
	if len(paths) == 0 {
		paths = defaultIDPaths
	}
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	}
	return "", ErrNoDeviceID
}
