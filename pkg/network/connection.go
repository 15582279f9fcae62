package network

import (
	"time"

	"github.com/cenkalti/backoff"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Connection is the transport seam between the publisher and the
// broker. Implementations must be safe for concurrent publishes.
type Connection interface {
	Connect() error
	Publish(topic string, payload []byte) error
	Disconnect()
}

// MQTTConnection publishes over an MQTT broker. The initial connect is
// retried with exponential backoff; afterwards the paho client handles
// reconnection on its own.
type MQTTConnection struct {
	client mqtt.Client
	logger *logrus.Entry
}

func NewMQTTConnection(brokerURL, clientID string, logger *logrus.Entry) *MQTTConnection {
	options := mqtt.NewClientOptions()
	options.AddBroker(brokerURL)
	options.SetClientID(clientID)
	options.SetAutoReconnect(true)
	options.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithFields(logrus.Fields{"error": err}).Warn("broker connection lost")
	})
	options.SetReconnectingHandler(func(client mqtt.Client, options *mqtt.ClientOptions) {
		logger.Info("reconnecting to broker")
	})

	return &MQTTConnection{
		client: mqtt.NewClient(options),
		logger: logger,
	}
}

func (c *MQTTConnection) Connect() error {
	connect := func() error {
		token := c.client.Connect()
		if token.Wait() && token.Error() != nil {
			c.logger.WithFields(logrus.Fields{"error": token.Error()}).Warn("broker connect failed")
			return token.Error()
		}
		return nil
	}

	if err := backoff.Retry(connect, backoff.NewExponentialBackOff()); err != nil {
		return errors.Wrap(err, "connect to broker")
	}
	c.logger.Info("connected to broker")
	return nil
}

func (c *MQTTConnection) Publish(topic string, payload []byte) error {
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("publish timed out")
	}
	return errors.Wrap(token.Error(), "publish")
}

func (c *MQTTConnection) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("disconnected from broker")
}
