// Package lifecycle provides session lifecycle management operations.
//
// The Manager drives sessions through their states on top of a single
// backend.Backend chosen at startup:
//
//	provisioning -> running -> {stopped <-> running, restarting -> running} -> destroyed
//
// Usage:
//
//	mgr, err := lifecycle.NewManager(lifecycle.Config{
//	    Kind:        backend.KindContainer,
//	    Backend:     containerBackend,
//	    Registry:    registry.New(),
//	    Ports:       ports,
//	    Credentials: credential.NewGenerator(8, 12),
//	    Logger:      logger,
//	})
//	info, err := mgr.CreateSession(ctx, "1234", backend.Spec{MemoryMB: 2048})
//	if errors.IsFatal(err) {
//	    return err
//	}
//	if info.Warning != nil {
//	    // usable, but credentials were not fully applied
//	}
//
// Operations on one session id are serialized through the registry's
// per-id lock; operations on different ids run in parallel. A failed create
// releases every allocation it made and leaves nothing in the registry.
// Destroyed sessions remain as tombstones until deleted.
package lifecycle
