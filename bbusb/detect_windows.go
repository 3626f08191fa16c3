//go:build windows

package bbusb

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// GUID_DEVINTERFACE_USB_DEVICE {A5DCBF10-6530-11D2-901F-00C04FB951ED}
var guidUsbDevice = windows.GUID{
	Data1: 0xA5DCBF10, Data2: 0x6530, Data3: 0x11D2,
	Data4: [8]byte{0x90, 0x1F, 0x00, 0xC0, 0x4F, 0xB9, 0x51, 0xED},
}

const (
	digcfPresent         = 0x00000002
	digcfDeviceInterface = 0x00000010

	spdrpDeviceDesc   = 0x00000000
	spdrpHardwareID   = 0x00000001
	spdrpFriendlyName = 0x0000000C
)

type spDeviceInterfaceData struct {
	cbSize             uint32
	interfaceClassGuid windows.GUID
	flags              uint32
	reserved           uintptr
}

type spDeviceInterfaceDetailData struct {
	cbSize     uint32
	devicePath [1]uint16 // variable length
}

type spDevinfoData struct {
	cbSize    uint32
	classGuid windows.GUID
	devInst   uint32
	reserved  uintptr
}

var (
	modSetupapi                    = windows.NewLazySystemDLL("setupapi.dll")
	procGetClassDevsW              = modSetupapi.NewProc("SetupDiGetClassDevsW")
	procEnumDeviceInterfaces       = modSetupapi.NewProc("SetupDiEnumDeviceInterfaces")
	procGetDeviceInterfaceDetailW  = modSetupapi.NewProc("SetupDiGetDeviceInterfaceDetailW")
	procGetDeviceRegistryPropertyW = modSetupapi.NewProc("SetupDiGetDeviceRegistryPropertyW")
	procDestroyDeviceInfoList      = modSetupapi.NewProc("SetupDiDestroyDeviceInfoList")
)

// listDevices enumerates present USB device interfaces via SetupAPI and
// filters them by vid:pid, using hardware IDs and the interface path. The
// device is never opened or claimed.
func listDevices(vid, pid uint16) ([]DeviceInfo, error) {
	h, _, callErr := procGetClassDevsW.Call(
		uintptr(unsafe.Pointer(&guidUsbDevice)),
		0, 0,
		uintptr(digcfPresent|digcfDeviceInterface),
	)
	if h == 0 || h == ^uintptr(0) {
		return nil, fmt.Errorf("SetupDiGetClassDevs: %w", callErr)
	}
	defer procDestroyDeviceInfoList.Call(h)

	vidpid := fmt.Sprintf("VID_%04X&PID_%04X", vid, pid)

	var results []DeviceInfo
	for index := uint32(0); ; index++ {
		var ifData spDeviceInterfaceData
		ifData.cbSize = uint32(unsafe.Sizeof(ifData))

		r, _, enumErr := procEnumDeviceInterfaces.Call(
			h, 0,
			uintptr(unsafe.Pointer(&guidUsbDevice)),
			uintptr(index),
			uintptr(unsafe.Pointer(&ifData)),
		)
		if r == 0 {
			if errors.Is(enumErr, windows.ERROR_NO_MORE_ITEMS) {
				break
			}
			return nil, fmt.Errorf("SetupDiEnumDeviceInterfaces index %d: %w", index, enumErr)
		}

		var devInfo spDevinfoData
		devInfo.cbSize = uint32(unsafe.Sizeof(devInfo))
		path, err := interfaceDetail(h, &ifData, &devInfo)
		if err != nil {
			return nil, err
		}

		hwIDs := multiSz(registryProperty(h, &devInfo, spdrpHardwareID))
		friendly := singleSz(registryProperty(h, &devInfo, spdrpFriendlyName))
		if friendly == "" {
			friendly = singleSz(registryProperty(h, &devInfo, spdrpDeviceDesc))
		}

		if matchesVIDPID(path, hwIDs, vidpid) {
			results = append(results, DeviceInfo{
				Description: friendly,
				Path:        path,
			})
		}
	}
	return results, nil
}

func matchesVIDPID(path string, hwIDs []string, vidpid string) bool {
	if strings.Contains(strings.ToUpper(path), vidpid) {
		return true
	}
	for _, id := range hwIDs {
		if strings.Contains(strings.ToUpper(id), vidpid) {
			return true
		}
	}
	return false
}

// interfaceDetail resolves the device path for an enumerated interface,
// sizing the detail buffer with the usual two-call dance.
func interfaceDetail(h uintptr, ifData *spDeviceInterfaceData, devInfo *spDevinfoData) (string, error) {
	var required uint32
	procGetDeviceInterfaceDetailW.Call(
		h,
		uintptr(unsafe.Pointer(ifData)),
		0, 0,
		uintptr(unsafe.Pointer(&required)),
		uintptr(unsafe.Pointer(devInfo)),
	)
	if required == 0 {
		return "", nil
	}

	buf := make([]byte, required)
	detail := (*spDeviceInterfaceDetailData)(unsafe.Pointer(&buf[0]))
	// cbSize is the fixed header size, which differs by pointer width
	if runtime.GOARCH == "386" || runtime.GOARCH == "arm" {
		detail.cbSize = 6
	} else {
		detail.cbSize = 8
	}

	r, _, callErr := procGetDeviceInterfaceDetailW.Call(
		h,
		uintptr(unsafe.Pointer(ifData)),
		uintptr(unsafe.Pointer(detail)),
		uintptr(required),
		0,
		uintptr(unsafe.Pointer(devInfo)),
	)
	if r == 0 {
		return "", fmt.Errorf("SetupDiGetDeviceInterfaceDetail: %w", callErr)
	}
	return windows.UTF16PtrToString(&detail.devicePath[0]), nil
}

// registryProperty fetches a raw registry property for a device as UTF-16
// code units, or nil when absent.
func registryProperty(h uintptr, devInfo *spDevinfoData, prop uint32) []uint16 {
	var dataType, required uint32
	r, _, callErr := procGetDeviceRegistryPropertyW.Call(
		h,
		uintptr(unsafe.Pointer(devInfo)),
		uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)),
		0, 0,
		uintptr(unsafe.Pointer(&required)),
	)
	if r == 0 && !errors.Is(callErr, windows.ERROR_INSUFFICIENT_BUFFER) {
		return nil
	}
	if required == 0 {
		return nil
	}

	buf := make([]uint16, required/2)
	r, _, _ = procGetDeviceRegistryPropertyW.Call(
		h,
		uintptr(unsafe.Pointer(devInfo)),
		uintptr(prop),
		uintptr(unsafe.Pointer(&dataType)),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(required),
		uintptr(unsafe.Pointer(&required)),
	)
	if r == 0 {
		return nil
	}
	return buf
}

// singleSz converts a REG_SZ property to a string.
func singleSz(buf []uint16) string {
	if buf == nil {
		return ""
	}
	return windows.UTF16ToString(buf)
}

// multiSz splits a REG_MULTI_SZ property into its strings.
func multiSz(buf []uint16) []string {
	var out []string
	start := 0
	for i, v := range buf {
		if v == 0 {
			if i == start {
				break
			}
			out = append(out, windows.UTF16ToString(buf[start:i]))
			start = i + 1
		}
	}
	return out
}
