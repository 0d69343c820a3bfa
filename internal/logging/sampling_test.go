package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampledCore_ErrorsNeverDropped(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    2,
		Thereafter: 0,
	})
	logger := zap.New(sampled)

	for i := 0; i < 10; i++ {
		logger.Info("repeated info")
		logger.Error("repeated error")
	}

	assert.Equal(t, 2, observed.FilterMessage("repeated info").Len())
	assert.Equal(t, 10, observed.FilterMessage("repeated error").Len())
}

func TestSampledCore_Disabled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := zap.New(newSampledCore(core, SamplingConfig{}))

	for i := 0; i < 5; i++ {
		logger.Info("same")
	}
	assert.Equal(t, 5, observed.Len())
}
