package media

type DeviceConfig struct {
	// VideoBitrate is the VP8 encoder target in bits per second.
	VideoBitrate int
}

func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{VideoBitrate: 1_500_000}
}
