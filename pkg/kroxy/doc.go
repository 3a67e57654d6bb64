// Package kroxy is the per-connection data-plane core of a transparent,
// protocol-aware Kafka proxy. Clients dial the proxy instead of a real
// broker; the proxy terminates the client connection, optionally decodes
// request/response frames, runs a configurable filter chain over them, and
// forwards the (possibly mutated, possibly short-circuited) traffic to an
// upstream broker chosen by a NetFilter.
//
// The package covers the framing codecs, the correlation manager, the
// filter chain runtime, and the frontend/backend connection state machines.
// Configuration loading, TLS/SNI termination, cluster-address resolution,
// plugin discovery, and built-in filters (encryption, multitenancy, schema
// validation) are external collaborators: the core only consumes a
// VirtualCluster descriptor, a NetFilter, and an ordered list of Filters.
package kroxy
