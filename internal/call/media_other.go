//go:build !linux

package call

import "errors"

// Device capture relies on V4L2 and ALSA drivers; care stations run Linux.
func NewDeviceSource() (MediaSource, error) {
	return nil, errors.New("device media capture is only supported on linux")
}
