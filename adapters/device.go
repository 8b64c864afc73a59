package adapters

import (
	"strings"

	"github.com/mssola/useragent"
)

// DetectDevice classifies a User-Agent string. An empty or unparseable
// string classifies as desktop.
func DetectDevice(userAgentString string) Device {
	if userAgentString == "" {
		return DeviceDesktop
	}

	ua := useragent.New(userAgentString)
	switch {
	case ua.Bot():
		return DeviceBot
	case isTablet(userAgentString):
		return DeviceTablet
	case ua.Mobile():
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// isTablet covers the gap in useragent, which folds tablets into
// Mobile(). iPads and Android devices without "Mobile" in the UA are
// tablets by convention.
func isTablet(userAgentString string) bool {
	lower := strings.ToLower(userAgentString)
	if strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet") {
		return true
	}
	return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
}
