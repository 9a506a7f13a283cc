package fotaagent

import (
	"os"
	"strings"

	"github.com/autopeer-io/fota/pkg/log"
)

// DeviceIDEnv overrides the device identity.
const DeviceIDEnv = "CPEER_DEVICE_ID"

// DiscoverDeviceID looks up the device identity from the environment, then
// from the given identity files. It returns "" when none is set.
func DiscoverDeviceID(files ...string) string {
	if id := os.Getenv(DeviceIDEnv); id != "" {
		log.Info("DeviceID detected from env", "id", id)
		return id
	}
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("DeviceID detected from file", "id", id, "file", f)
			return id
		}
	}
	return ""
}
