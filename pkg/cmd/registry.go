// Package cmd provides shared initialization for command-line entry points.
package cmd

import (
	"log/slog"

	"github.com/weftlabs/weft/pkg/actions/filewrite"
	"github.com/weftlabs/weft/pkg/actions/httprequest"
	logaction "github.com/weftlabs/weft/pkg/actions/log"
	"github.com/weftlabs/weft/pkg/actions/transform"
	"github.com/weftlabs/weft/pkg/registry"
	eventtrigger "github.com/weftlabs/weft/pkg/triggers/event"
	"github.com/weftlabs/weft/pkg/triggers/manual"
	"github.com/weftlabs/weft/pkg/triggers/schedule"
	"github.com/weftlabs/weft/pkg/triggers/watcher"
)

func registerNativeActions(reg *registry.Registry) {
	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())
	reg.RegisterAction(logaction.NewLogActionFactory())
	reg.RegisterAction(filewrite.NewActionFactory())
}

func registerNativeTriggers(reg *registry.Registry) {
	reg.RegisterTrigger(schedule.NewScheduleTriggerFactory())
	reg.RegisterTrigger(watcher.NewWatcherTriggerFactory())
	reg.RegisterTrigger(manual.NewManualTriggerFactory())
	reg.RegisterTrigger(eventtrigger.NewEventTriggerFactory())
}

func NewRegistry(log *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(log)

	registerNativeActions(reg)
	registerNativeTriggers(reg)

	return reg
}
