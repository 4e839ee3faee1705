package registry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bhangun/wayang-inference/internal/registry/descriptor"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() Config {
	return Config{
		MaxWorkersPerModel:      2,
		DrainTimeout:            time.Second,
		SpawnWaitTimeout:        5 * time.Second,
		SystemMemoryCapFraction: 0.8,
		ChannelCapacity:         8,
	}
}

func TestNewRegistersStaticDescriptorsPerCapability(t *testing.T) {
	d := &descriptor.Descriptor{RegistryKey: "llama-3-8b", Name: "llama-3-8b"}
	reg, err := New(testConfig(), testLogger(), map[string][]*descriptor.Descriptor{
		CapTextToText: {d},
	}, nil)
	require.NoError(t, err)

	got, err := reg.Descriptor(CapTextToText, "llama-3-8b")
	require.NoError(t, err)
	assert.Same(t, d, got)

	_, err = reg.Descriptor(CapTextToText, "unknown-key")
	assert.Error(t, err)

	_, err = reg.Descriptor("not-a-capability", "llama-3-8b")
	assert.Error(t, err)
}

func TestRegisterRuntimeDescriptorIsVisibleAfterward(t *testing.T) {
	reg, err := New(testConfig(), testLogger(), nil, nil)
	require.NoError(t, err)

	d := &descriptor.Descriptor{RegistryKey: "staged-model"}
	require.NoError(t, reg.RegisterRuntime(CapVision, d))

	got, err := reg.Descriptor(CapVision, "staged-model")
	require.NoError(t, err)
	assert.Same(t, d, got)

	descs, err := reg.Descriptors(CapVision)
	require.NoError(t, err)
	assert.Len(t, descs, 1)
}

func TestRegisterRuntimeUnknownCapability(t *testing.T) {
	reg, err := New(testConfig(), testLogger(), nil, nil)
	require.NoError(t, err)

	err = reg.RegisterRuntime("not-a-capability", &descriptor.Descriptor{RegistryKey: "x"})
	assert.Error(t, err)
}

func TestShutdownReturnsOnceAllPoolsDrain(t *testing.T) {
	reg, err := New(testConfig(), testLogger(), nil, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		reg.Shutdown(context.Background(), 100*time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}

	assert.True(t, reg.TextToText.IsShuttingDown())
	assert.True(t, reg.TextEmbedding.IsShuttingDown())
	assert.True(t, reg.ImageEmbedding.IsShuttingDown())
	assert.True(t, reg.Vision.IsShuttingDown())
	assert.True(t, reg.TextToImage.IsShuttingDown())
}
