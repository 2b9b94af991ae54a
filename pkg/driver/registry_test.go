package driver

import (
	"context"
	"testing"

	"github.com/flowbridge/bridge/pkg/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct{ Token string }

type stubDriver struct {
	cfg    stubConfig
	router *bridge.Router
}

func (s *stubDriver) Start(ctx context.Context) error {
	s.router.RegisterSender("stub", func(ctx context.Context, ch bridge.Channel, text string, atts []bridge.Attachment, extra map[string]any) (string, error) {
		return "", nil
	})
	<-ctx.Done()
	return nil
}

func TestRegisterAndBuild(t *testing.T) {
	name := "stub-test-kind-1"
	Register(name, func() any { return &stubConfig{} }, func(instanceID string, config any, router *bridge.Router) (Driver, error) {
		cfg := config.(*stubConfig)
		return &stubDriver{cfg: *cfg, router: router}, nil
	})

	cfg, ok := NewConfig(name)
	require.True(t, ok)
	cfg.(*stubConfig).Token = "abc"

	router := bridge.NewRouter(nil, nil)
	d, err := Build(name, "inst1", cfg, router)
	require.NoError(t, err)
	assert.IsType(t, &stubDriver{}, d)
	assert.Equal(t, "abc", d.(*stubDriver).cfg.Token)
}

func TestBuildUnknownKind(t *testing.T) {
	_, err := Build("no-such-kind-ever", "inst1", nil, nil)
	assert.Error(t, err)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	name := "stub-test-kind-2"
	Register(name, func() any { return &stubConfig{} }, func(string, any, *bridge.Router) (Driver, error) { return nil, nil })
	assert.Panics(t, func() {
		Register(name, func() any { return &stubConfig{} }, func(string, any, *bridge.Router) (Driver, error) { return nil, nil })
	})
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}
