package registry

import "os"

type filesystemManagement interface {
	writeSensorsFile(filepath string, data []byte) error
	readSensorsFile(filepath string) ([]byte, error)
}

type fileManagement struct{}

func (fs *fileManagement) writeSensorsFile(filepath string, data []byte) error {
	return os.WriteFile(filepath, data, 0600)
}

func (fs *fileManagement) readSensorsFile(filepath string) ([]byte, error) {
	return os.ReadFile(filepath)
}
