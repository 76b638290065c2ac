// Package containersvc runs long-running service containers declared in
// the deployment model, reconciling running containers toward the
// desired replica count through containerd. Without a containerd socket
// the provider starts disabled.
package containersvc
