package deviceinfo

import (
	"os"

	"github.com/shirou/gopsutil/host"

	"github.com/gradscan/scan-relay/pkg/file"
)

// Identity holds the scanner's persisted identifier.
type Identity struct {
	ScannerID string `json:"scanner_id,omitempty"`
}

// DeviceInfoInterface defines methods for managing scanner device identity.
type DeviceInfoInterface interface {
	Load() error
	SaveScannerID(scannerID string) error
	GetScannerID() string
	HostMetadata() map[string]string
}

// DeviceInfo manages the scanner identity file and host metadata lookup.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) DeviceInfoInterface {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{},
	}
}

// Load reads the device identity from the file. A missing file is not an
// error; the scanner registers with the default id until one is saved.
func (d *DeviceInfo) Load() error {
	err := d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	if err != nil {
		if os.IsNotExist(err) {
			d.Identity = Identity{}
			return nil
		}
		return err
	}
	return nil
}

// SaveScannerID persists the scanner id so it survives restarts.
func (d *DeviceInfo) SaveScannerID(scannerID string) error {
	d.Identity.ScannerID = scannerID
	return d.fileOps.WriteJsonFile(d.DeviceInfoFile, &d.Identity)
}

// GetScannerID returns the persisted scanner id, or "" when none is saved.
func (d *DeviceInfo) GetScannerID() string {
	return d.Identity.ScannerID
}

// HostMetadata collects hostname and platform details attached to the
// register-scanner message. Failures degrade to an empty map.
func (d *DeviceInfo) HostMetadata() map[string]string {
	meta := make(map[string]string)
	info, err := host.Info()
	if err != nil {
		return meta
	}
	meta["hostname"] = info.Hostname
	meta["os"] = info.OS
	meta["platform"] = info.Platform
	if info.PlatformVersion != "" {
		meta["platformVersion"] = info.PlatformVersion
	}
	return meta
}
