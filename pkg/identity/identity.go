package identity

import (
	"os"
	"strings"

	"github.com/oxygenupdater/ota-agent/pkg/file"
)

// Identity holds the system properties of the phone the agent reports for.
type Identity struct {
	ProductName        string `json:"product_name" yaml:"product_name"`               // e.g. OnePlus7Pro
	Model              string `json:"model,omitempty" yaml:"model"`                   // Marketing name
	OTAVersion         string `json:"ota_version" yaml:"ota_version"`                 // Installed OTA version label
	IncrementalVersion string `json:"incremental_version" yaml:"incremental_version"` // Build incremental used for update lookups
	OSVersion          string `json:"os_version,omitempty" yaml:"os_version"`
}

// DeviceInfoInterface defines methods for reading device system properties.
type DeviceInfoInterface interface {
	LoadDeviceInfo() error
	GetDeviceIdentity() *Identity
	GetProductName() string
	GetIncrementalVersion() string
}

// DeviceInfo reads the device identity from a properties file.
type DeviceInfo struct {
	DeviceInfoFile string
	Identity       Identity
	fileOps        file.FileOperations
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(filePath string, fileOps file.FileOperations) *DeviceInfo {
	return &DeviceInfo{
		DeviceInfoFile: filePath,
		fileOps:        fileOps,
		Identity:       Identity{},
	}
}

// LoadDeviceInfo reads the properties file. YAML files are detected by extension,
// everything else is read as JSON. A missing file leaves the identity empty.
func (d *DeviceInfo) LoadDeviceInfo() error {
	var err error
	if strings.HasSuffix(d.DeviceInfoFile, ".yaml") || strings.HasSuffix(d.DeviceInfoFile, ".yml") {
		err = d.fileOps.ReadYamlFile(d.DeviceInfoFile, &d.Identity)
	} else {
		err = d.fileOps.ReadJsonFile(d.DeviceInfoFile, &d.Identity)
	}
	if err != nil {
		if os.IsNotExist(err) {
			d.Identity = Identity{}
			return nil
		}
		return err
	}

	return nil
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetProductName returns the product name used to match server devices.
func (d *DeviceInfo) GetProductName() string {
	return d.Identity.ProductName
}

// GetIncrementalVersion returns the incremental build version, falling back to the OTA version.
func (d *DeviceInfo) GetIncrementalVersion() string {
	if d.Identity.IncrementalVersion != "" {
		return d.Identity.IncrementalVersion
	}
	return d.Identity.OTAVersion
}
