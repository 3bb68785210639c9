package models

import (
	"strings"
)

// DeviceConfig is one entry of the configured device list
type DeviceConfig struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Threshold      float64 `json:"threshold"`
	Active         bool    `json:"active"`
	AlexaDeviceID  string  `json:"alexaDeviceId,omitempty"`
	TelegramTarget string  `json:"telegramTarget,omitempty"`
}

// Device is a registered appliance. ID never changes once assigned.
type Device struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	SourceStateRef string  `json:"state"`
	Threshold      float64 `json:"threshold"`
	Active         bool    `json:"active"`
	AlexaDeviceID  string  `json:"alexaDeviceId,omitempty"`
	TelegramTarget string  `json:"telegramTarget,omitempty"`
}

// DeviceInfo holds the display fields refreshed on every metering tick
type DeviceInfo struct {
	Name      string  `json:"device"`
	State     string  `json:"state"`
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
}

var slugTransliterations = map[rune]string{
	'ä': "ae", 'ö': "oe", 'ü': "ue", 'ß': "ss",
	'é': "e", 'è': "e", 'à': "a", 'ç': "c",
}

// Slug derives a device id from its name. Only [a-z0-9_-] survive, as every backend must accept the id
// inside a key; other runs of characters collapse into a single underscore.
func Slug(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			sb.WriteRune(r)
		case slugTransliterations[r] != "":
			sb.WriteString(slugTransliterations[r])
		case !strings.HasSuffix(sb.String(), "_"):
			sb.WriteByte('_')
		}
	}
	return strings.Trim(sb.String(), "_")
}

// ToDevice converts a configuration entry into a device with a derived id
func (c DeviceConfig) ToDevice() Device {
	return Device{
		ID:             Slug(c.Name),
		Name:           c.Name,
		SourceStateRef: strings.TrimSpace(c.State),
		Threshold:      c.Threshold,
		Active:         c.Active,
		AlexaDeviceID:  c.AlexaDeviceID,
		TelegramTarget: c.TelegramTarget,
	}
}

// Info returns the display fields of the device
func (d Device) Info() DeviceInfo {
	return DeviceInfo{
		Name:      d.Name,
		State:     d.SourceStateRef,
		Enabled:   d.Active,
		Threshold: d.Threshold,
	}
}
