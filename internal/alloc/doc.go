// Package alloc hands out the two scarce identifiers a session needs: its
// session id and, for backends that publish a host port, that port.
//
// Session ids are the first 8 hex characters of a random UUID. Uniqueness is
// enforced by reserving each candidate in the session registry, which also
// remembers retired ids so an id is never handed out twice during the
// registry's lifetime.
//
// Host ports are tracked by PortAllocator under its own lock, independent of
// the registry, so port allocation for one session never waits on another
// session's backend call.
package alloc
