package mocks

import (
	"github.com/stretchr/testify/mock"
)

// DeviceInfo is a mock implementation of deviceinfo.DeviceInfoInterface.
type DeviceInfo struct {
	mock.Mock
}

func (m *DeviceInfo) Load() error {
	args := m.Called()
	return args.Error(0)
}

func (m *DeviceInfo) SaveScannerID(scannerID string) error {
	args := m.Called(scannerID)
	return args.Error(0)
}

func (m *DeviceInfo) GetScannerID() string {
	args := m.Called()
	return args.String(0)
}

func (m *DeviceInfo) HostMetadata() map[string]string {
	args := m.Called()
	meta, _ := args.Get(0).(map[string]string)
	return meta
}
