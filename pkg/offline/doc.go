// Package offline implements an offline cache controller: a versioned,
// event-driven interceptor that sits between an application and the network.
//
// # Lifecycle
//
// A Controller moves through the states
//
//	parsed -> installing -> installed -> activating -> activated
//
// and ends in redundant when its install fails or a newer version replaces
// it. Events are routed through a dispatch table; an event that is not valid
// in the current state fails with ErrInvalidState.
//
//   - install precaches the configured URLs (plus the offline page) into
//     the static-<version> partition. Any failure rejects the version.
//   - activate deletes every partition not owned by this version.
//   - fetch serves GET http(s) requests cache-first. Misses go to the
//     network; same-origin 200 responses are stored in dynamic-<version>.
//     Failed navigations get the precached offline page.
//   - sync runs the handler registered for the event's tag.
//   - push shows a notification with open and dismiss actions;
//     notificationclick opens data.url on "open".
//
// # Registration
//
// Registration keeps the active controller across deployments:
//
//	reg := offline.NewRegistration(nil)
//	_, err := reg.Register(ctx, offline.Config{
//		Origin:       "https://shop.example",
//		Version:      "v2",
//		PrecacheURLs: []string{"/", "/app.css"},
//		Storage:      storage.NewMemory(),
//		Fetcher:      offline.HTTPFetcher{},
//	})
//
//	client := &http.Client{Transport: reg.Transport(nil)}
//
// A version that fails to install leaves the previous one active.
//
// # Metrics
//
//   - resilience_offline_fetch_total{outcome}
//   - resilience_offline_lifecycle_total{event,result}
//   - resilience_offline_partitions_deleted_total
//   - resilience_offline_dynamic_evictions_total
//   - resilience_offline_sync_total{tag,result}
//   - resilience_offline_push_total{result}
//   - resilience_offline_queue_length{queue}
//   - resilience_offline_active_version{version}
package offline
