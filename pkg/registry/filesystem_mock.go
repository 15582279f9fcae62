package registry

import "github.com/stretchr/testify/mock"

type fileManagementMock struct {
	mock.Mock
}

func (fm *fileManagementMock) writeSensorsFile(filepath string, data []byte) error {
	args := fm.Called(filepath, data)
	return args.Error(0)
}

func (fm *fileManagementMock) readSensorsFile(filepath string) ([]byte, error) {
	args := fm.Called(filepath)
	return args.Get(0).([]byte), args.Error(1)
}
