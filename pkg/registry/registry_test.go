package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/models"
	"github.com/weftlabs/weft/pkg/protocol"
)

type fakeAction struct{}

func (a *fakeAction) Execute(_ context.Context, _ *models.RunContext, _ *slog.Logger) (any, error) {
	return map[string]any{"ok": true}, nil
}

type fakeActionFactory struct{}

func (f *fakeActionFactory) ID() string { return "fake" }

func (f *fakeActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &fakeAction{}, nil
}

func (f *fakeActionFactory) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"url"},
		"properties": map[string]any{
			"url": map[string]any{"type": "string"},
		},
	}
}

func (f *fakeActionFactory) OutputSchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"ok"},
		"properties": map[string]any{
			"ok": map[string]any{"type": "boolean"},
		},
	}
}

func TestRegistry_CreateAction(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterAction(&fakeActionFactory{})

	action, err := registry.CreateAction("fake", map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.NotNil(t, action)

	_, err = registry.CreateAction("missing", nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestRegistry_ValidateActionConfig(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterAction(&fakeActionFactory{})

	err := registry.ValidateActionConfig("fake", map[string]any{"url": "https://example.com"})
	assert.NoError(t, err)

	err = registry.ValidateActionConfig("fake", map[string]any{})
	assert.ErrorContains(t, err, "url")

	err = registry.ValidateActionConfig("missing", nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestRegistry_ValidateActionOutput(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterAction(&fakeActionFactory{})

	err := registry.ValidateActionOutput("fake", map[string]any{"ok": true})
	assert.NoError(t, err)

	err = registry.ValidateActionOutput("fake", map[string]any{"ok": "yes"})
	assert.ErrorContains(t, err, "ok")

	err = registry.ValidateActionOutput("missing", nil)
	assert.ErrorContains(t, err, "not registered")
}

func TestRegistry_ActionPluginID(t *testing.T) {
	registry := NewRegistry(slog.Default())
	registry.RegisterAction(&fakeActionFactory{})

	pluginID, ok := registry.ActionPluginID("fake")
	require.True(t, ok)
	assert.Equal(t, NativePluginID, pluginID)

	registry.RegisterPluginAction(&fakeActionFactory{}, "acme-tools")

	pluginID, ok = registry.ActionPluginID("fake")
	require.True(t, ok)
	assert.Equal(t, "acme-tools", pluginID)

	_, ok = registry.ActionPluginID("missing")
	assert.False(t, ok)
}

func TestRegistry_AvailableActions(t *testing.T) {
	registry := NewRegistry(slog.Default())
	assert.Empty(t, registry.AvailableActions())

	registry.RegisterAction(&fakeActionFactory{})
	assert.Equal(t, []string{"fake"}, registry.AvailableActions())
}
