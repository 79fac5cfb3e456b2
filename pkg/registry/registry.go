// Package registry holds the action and trigger factories known to a running
// engine, keyed by type string.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/weftlabs/weft/pkg/protocol"
)

// NativePluginID tags action factories compiled into the engine binary, as
// opposed to ones contributed by an external plugin.
const NativePluginID = "native"

// actionEntry pairs a factory with the plugin that contributed it.
type actionEntry struct {
	factory  protocol.ActionFactory
	pluginID string
}

type Registry struct {
	logger           *slog.Logger
	actions          map[string]actionEntry
	triggerFactories map[string]protocol.TriggerFactory
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:           log,
		actions:          make(map[string]actionEntry),
		triggerFactories: make(map[string]protocol.TriggerFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actions[factory.ID()] = actionEntry{factory: factory, pluginID: NativePluginID}
}

// RegisterPluginAction registers a factory contributed by an external plugin,
// tagged with the plugin's ID for diagnostics.
func (r *Registry) RegisterPluginAction(factory protocol.ActionFactory, pluginID string) {
	r.actions[factory.ID()] = actionEntry{factory: factory, pluginID: pluginID}
}

func (r *Registry) RegisterTrigger(factory protocol.TriggerFactory) {
	r.triggerFactories[factory.ID()] = factory
}

func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	entry, ok := r.actions[actionType]
	if !ok {
		return nil, fmt.Errorf("action type '%s' not registered", actionType)
	}

	return entry.factory.Create(config)
}

// ActionPluginID reports which plugin contributed an action type.
func (r *Registry) ActionPluginID(actionType string) (string, bool) {
	entry, ok := r.actions[actionType]
	if !ok {
		return "", false
	}

	return entry.pluginID, true
}

func (r *Registry) CreateTrigger(triggerType string, config map[string]any) (protocol.Trigger, error) {
	factory, ok := r.triggerFactories[triggerType]
	if !ok {
		return nil, fmt.Errorf("trigger ID '%s' not registered", triggerType)
	}

	return factory.Create(config, r.logger)
}

// ValidateActionConfig checks a node's config against the factory's JSON
// schema. Called at workflow registration so a bad config fails fast, and
// again at execution time against the rendered config, since templating can
// change a value's type.
func (r *Registry) ValidateActionConfig(actionType string, config map[string]any) error {
	entry, ok := r.actions[actionType]
	if !ok {
		return fmt.Errorf("action type '%s' not registered", actionType)
	}

	return validateAgainstSchema(entry.factory.Schema(), config)
}

// ValidateActionOutput checks an action's output against the factory's
// declared output schema. Callers treat a mismatch as advisory; the output
// is recorded either way.
func (r *Registry) ValidateActionOutput(actionType string, output any) error {
	entry, ok := r.actions[actionType]
	if !ok {
		return fmt.Errorf("action type '%s' not registered", actionType)
	}

	return validateAgainstSchema(entry.factory.OutputSchema(), output)
}

func (r *Registry) ValidateTriggerConfig(triggerType string, config map[string]any) error {
	factory, ok := r.triggerFactories[triggerType]
	if !ok {
		return fmt.Errorf("trigger ID '%s' not registered", triggerType)
	}

	return validateAgainstSchema(factory.Schema(), config)
}

func (r *Registry) AvailableActions() []string {
	types := make([]string, 0, len(r.actions))
	for actionType := range r.actions {
		types = append(types, actionType)
	}

	return types
}

func (r *Registry) AvailableTriggers() []string {
	types := make([]string, 0, len(r.triggerFactories))
	for triggerType := range r.triggerFactories {
		types = append(types, triggerType)
	}

	return types
}

func validateAgainstSchema(schema map[string]any, data any) error {
	if schema == nil {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}

	return nil
}
