// Package httpapi holds the wire dispatch cores: a single action table
// keyed by (service, action), the typed-JSON and form/XML dialect
// handlers that feed it, and the REST adaptor for the object store. The
// dialect only chooses how requests decode and responses encode; the
// handlers behind the table are shared.
package httpapi
