package bbusb

// DeviceInfo carries metadata for a detected BitBabbler. Fields may be empty
// when the platform cannot provide them.
type DeviceInfo struct {
	// Serial is the USB serial number string, when readable.
	Serial string
	// Description is a human-friendly label (product/manufacturer strings
	// or the platform's friendly name).
	Description string
	// Path is the platform device path, when available.
	Path string
}

// Present reports whether at least one BitBabbler (VID 0x0403 PID 0x7840) is
// connected, without claiming it. On Windows this goes through SetupAPI so
// no libusb driver binding is needed; elsewhere it enumerates descriptors
// via libusb.
func Present() (bool, []DeviceInfo, error) {
	devices, err := listDevices(VendorID, ProductID)
	if err != nil {
		return false, nil, err
	}
	return len(devices) > 0, devices, nil
}
