package models

// DeviceFingerprint summarizes client/network signals for device-trust
// heuristics. Only DeviceID participates in the known-device comparison;
// the rest is informational.
type DeviceFingerprint struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	IPAddress  string `json:"ip_address"`
	Location   string `json:"location"`
	UserAgent  string `json:"-"`
}
