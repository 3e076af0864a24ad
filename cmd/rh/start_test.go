package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/relayhub/internal/config"
	"github.com/zulandar/relayhub/internal/models"
)

func TestNewConnectors_SupportsBothPlatforms(t *testing.T) {
	cs := newConnectors(logrus.New())

	tg, err := cs.Get(models.PlatformTelegram)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformTelegram, tg.Platform())

	dc, err := cs.Get(models.PlatformDiscord)
	require.NoError(t, err)
	assert.Equal(t, models.PlatformDiscord, dc.Platform())
}

func TestNewReporter_LogOnly(t *testing.T) {
	reporter, closeFn, err := newReporter(config.OpsConfig{}, logrus.New())
	require.NoError(t, err)
	require.NotNil(t, reporter)
	closeFn()
}

func TestNewReporter_BadAMQPURL(t *testing.T) {
	_, _, err := newReporter(config.OpsConfig{AMQPURL: "not-a-url", AMQPExchange: "x"}, logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ops amqp")
}
