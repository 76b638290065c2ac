// Package objectstore is the on-disk object store: buckets as
// directories, payloads as files with JSON metadata sidecars, MD5 ETags,
// paginated listing with opaque continuation tokens, HMAC-signed
// presigned URLs, and mutation notifications through the event fabric.
package objectstore
