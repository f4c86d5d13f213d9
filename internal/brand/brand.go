// Package brand carries the handful of identity constants that would, on a
// real microcontroller, live in PROGMEM: the binary name, the default
// monitoring server URI, and the platform tag sent on every request.
package brand

import "runtime"

const (
	// BinaryName is the command name of cmd/iop-cored, also used as its
	// logger tag and as the prefix of the captive portal's AP SSID.
	BinaryName = "iop-cored"

	// DefaultBaseURI is used only when the configuration file omits one;
	// real deployments always set Config.BaseURI explicitly.
	DefaultBaseURI = "https://iop.example.com"
)

// Platform identifies the running build the way spec.md's Hardware Façade
// platform() does ("ESP8266", "ESP32", ...). A Go build runs on a host
// GOOS/GOARCH acting as the device, so we report that instead.
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH
}
