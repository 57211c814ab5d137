// Package adaptive holds the complete configuration of the performance
// governor and keeps it live.
//
// AdaptiveConfig composes the per-component configuration structs:
//
//   - Monitoring: sampling window, alert thresholds and cooldowns
//   - Quality: downgrade dwell and upgrade recovery windows
//   - Observer: how presentation bindings attach to the service
//   - Scroll: momentum physics, debounce and animation deferral
//   - Content: zoom thresholds per section and engagement tuning
//   - Recovery: retry budget, reload escalation and history size
//   - Probes: memory ceiling and GPU device selection
//   - Server: the status and control HTTP surface
//
// # Usage Example
//
//	cfg, err := adaptive.LoadFile("perfgov.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	manager, err := adaptive.NewManager(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	events := manager.Subscribe(ctx)
//	go manager.Watch(ctx, "perfgov.yaml")
//
//	for ev := range events {
//		fmt.Println(ev.Source, ev.Sections)
//	}
//
// Durations in YAML are written as Go duration strings ("2s", "150ms") and
// quality levels by name ("high").
//
// # Hot Reload
//
// Watch reloads the file whenever it is written or replaced. A reloaded
// file that fails validation is rejected; subscribers receive a failed
// ChangeEvent and the previous configuration stays live.
package adaptive
