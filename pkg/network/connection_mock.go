package network

import "github.com/stretchr/testify/mock"

type ConnectionMock struct {
	mock.Mock
}

func (c *ConnectionMock) Connect() error {
	args := c.Called()
	return args.Error(0)
}

func (c *ConnectionMock) Publish(topic string, payload []byte) error {
	args := c.Called(topic, payload)
	return args.Error(0)
}

func (c *ConnectionMock) Disconnect() {
	c.Called()
}
