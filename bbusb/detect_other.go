//go:build !windows

package bbusb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/gousb"
)

// listDevices enumerates connected devices matching vid:pid via libusb,
// reading descriptor strings where permissions allow.
func listDevices(vid, pid uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	if err != nil && !errors.Is(err, gousb.ErrorAccess) && len(devs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	infos := make([]DeviceInfo, 0, len(devs))
	for _, dev := range devs {
		serial, _ := dev.SerialNumber()
		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()
		infos = append(infos, DeviceInfo{
			Serial:      serial,
			Description: strings.TrimSpace(manufacturer + " " + product),
			Path:        dev.Desc.String(),
		})
		dev.Close()
	}
	return infos, nil
}
