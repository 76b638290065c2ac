package httpapi

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/objectstore"
	"github.com/burrowdev/burrow/pkg/provider"
)

const userMetaPrefix = "x-amz-meta-"

// ObjectStoreHandler serves the object store's REST dialect: buckets
// and keys ride in the path, metadata in headers, errors as XML.
type ObjectStoreHandler struct {
	store  *objectstore.Store
	signer *objectstore.Signer
}

// NewObjectStoreHandler mounts the REST routes on a fresh router.
func NewObjectStoreHandler(store *objectstore.Store, signer *objectstore.Signer) http.Handler {
	h := &ObjectStoreHandler{store: store, signer: signer}

	r := chi.NewRouter()
	r.Get("/", h.listBuckets)
	r.Put("/{bucket}", h.createBucket)
	r.Delete("/{bucket}", h.deleteBucket)
	r.Get("/{bucket}", h.listObjects)
	r.Put("/{bucket}/*", h.putObject)
	r.Get("/{bucket}/*", h.getObject)
	r.Head("/{bucket}/*", h.headObject)
	r.Delete("/{bucket}/*", h.deleteObject)
	return r
}

// xmlError is the REST dialect's error envelope.
type xmlError struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

func writeObjectStoreError(w http.ResponseWriter, err error) {
	code, status := "InternalError", http.StatusInternalServerError
	switch {
	case errors.Is(err, objectstore.ErrBucketNotFound):
		code, status = "NoSuchBucket", http.StatusNotFound
	case errors.Is(err, objectstore.ErrObjectNotFound):
		code, status = "NoSuchKey", http.StatusNotFound
	case errors.Is(err, objectstore.ErrBucketExists):
		code, status = "BucketAlreadyExists", http.StatusConflict
	case errors.Is(err, objectstore.ErrBucketNotEmpty):
		code, status = "BucketNotEmpty", http.StatusConflict
	}
	metrics.RequestErrors.WithLabelValues(provider.ServiceObjectStore, code).Inc()

	body, _ := xml.Marshal(xmlError{Code: code, Message: err.Error()})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func countRequest(action string) {
	metrics.RequestsTotal.WithLabelValues(provider.ServiceObjectStore, action).Inc()
}

// checkPresign enforces a presigned-URL signature when one is present.
// Unsigned requests pass through; the emulator has no ambient auth.
func (h *ObjectStoreHandler) checkPresign(r *http.Request) error {
	if r.URL.Query().Get("X-Burrow-Signature") == "" {
		return nil
	}
	_, _, err := h.signer.Validate(r.URL.String(), r.Method)
	return err
}

func objectKey(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "*")
	if raw == "" {
		return "", errors.New("missing object key")
	}
	// chi hands the wildcard back still path-escaped
	segs := strings.Split(raw, "/")
	for i, s := range segs {
		if unescaped, err := url.PathUnescape(s); err == nil {
			segs[i] = unescaped
		}
	}
	return strings.Join(segs, "/"), nil
}

func (h *ObjectStoreHandler) listBuckets(w http.ResponseWriter, r *http.Request) {
	countRequest("ListBuckets")
	names, err := h.store.ListBuckets()
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	type bucketEntry struct {
		Name string `xml:"Name"`
	}
	out := struct {
		XMLName xml.Name      `xml:"ListAllMyBucketsResult"`
		Buckets []bucketEntry `xml:"Buckets>Bucket"`
	}{}
	for _, name := range names {
		out.Buckets = append(out.Buckets, bucketEntry{Name: name})
	}
	writeXML(w, http.StatusOK, out)
}

func (h *ObjectStoreHandler) createBucket(w http.ResponseWriter, r *http.Request) {
	countRequest("CreateBucket")
	if err := h.store.CreateBucket(chi.URLParam(r, "bucket")); err != nil {
		// bucket creates are idempotent on the wire
		if !errors.Is(err, objectstore.ErrBucketExists) {
			writeObjectStoreError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *ObjectStoreHandler) deleteBucket(w http.ResponseWriter, r *http.Request) {
	countRequest("DeleteBucket")
	force := r.URL.Query().Get("force") == "true"
	if err := h.store.DeleteBucket(chi.URLParam(r, "bucket"), force); err != nil {
		writeObjectStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ObjectStoreHandler) listObjects(w http.ResponseWriter, r *http.Request) {
	countRequest("ListObjects")
	bucket := chi.URLParam(r, "bucket")
	q := r.URL.Query()

	maxKeys := 1000
	if v := q.Get("max-keys"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeObjectStoreError(w, errors.New("invalid max-keys"))
			return
		}
		maxKeys = n
	}

	page, err := h.store.List(bucket, q.Get("prefix"), maxKeys, q.Get("continuation-token"))
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	type contents struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		ETag         string    `xml:"ETag"`
		LastModified time.Time `xml:"LastModified"`
	}
	out := struct {
		XMLName               xml.Name   `xml:"ListBucketResult"`
		Name                  string     `xml:"Name"`
		Prefix                string     `xml:"Prefix"`
		IsTruncated           bool       `xml:"IsTruncated"`
		NextContinuationToken string     `xml:"NextContinuationToken,omitempty"`
		Contents              []contents `xml:"Contents"`
	}{
		Name:                  bucket,
		Prefix:                q.Get("prefix"),
		IsTruncated:           page.Truncated,
		NextContinuationToken: page.NextToken,
	}
	for _, m := range page.Objects {
		out.Contents = append(out.Contents, contents{
			Key: m.Key, Size: m.Size, ETag: m.ETag, LastModified: m.LastModified,
		})
	}
	writeXML(w, http.StatusOK, out)
}

func (h *ObjectStoreHandler) putObject(w http.ResponseWriter, r *http.Request) {
	countRequest("PutObject")
	if err := h.checkPresign(r); err != nil {
		writeAccessDenied(w, err)
		return
	}
	bucket := chi.URLParam(r, "bucket")
	key, err := objectKey(r)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	// server-side copy when a source is named
	if src := r.Header.Get("x-amz-copy-source"); src != "" {
		srcBucket, srcKey, ok := strings.Cut(strings.TrimPrefix(src, "/"), "/")
		if !ok {
			writeObjectStoreError(w, errors.New("invalid copy source"))
			return
		}
		etag, err := h.store.Copy(srcBucket, srcKey, bucket, key)
		if err != nil {
			writeObjectStoreError(w, err)
			return
		}
		writeXML(w, http.StatusOK, struct {
			XMLName xml.Name `xml:"CopyObjectResult"`
			ETag    string   `xml:"ETag"`
		}{ETag: etag})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	var userMeta map[string]string
	for name, vals := range r.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, userMetaPrefix) && len(vals) > 0 {
			if userMeta == nil {
				userMeta = map[string]string{}
			}
			userMeta[strings.TrimPrefix(lower, userMetaPrefix)] = vals[0]
		}
	}

	etag, err := h.store.Put(bucket, key, body, r.Header.Get("Content-Type"), userMeta)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
}

func (h *ObjectStoreHandler) getObject(w http.ResponseWriter, r *http.Request) {
	countRequest("GetObject")
	if err := h.checkPresign(r); err != nil {
		writeAccessDenied(w, err)
		return
	}
	bucket := chi.URLParam(r, "bucket")
	key, err := objectKey(r)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	obj, err := h.store.Get(bucket, key)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}
	writeObjectHeaders(w, &obj.ObjectMeta)
	w.WriteHeader(http.StatusOK)
	w.Write(obj.Body)
}

func (h *ObjectStoreHandler) headObject(w http.ResponseWriter, r *http.Request) {
	countRequest("HeadObject")
	bucket := chi.URLParam(r, "bucket")
	key, err := objectKey(r)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	meta, err := h.store.Head(bucket, key)
	if err != nil {
		// HEAD responses carry no body
		status := http.StatusInternalServerError
		if errors.Is(err, objectstore.ErrBucketNotFound) || errors.Is(err, objectstore.ErrObjectNotFound) {
			status = http.StatusNotFound
		}
		w.WriteHeader(status)
		return
	}
	writeObjectHeaders(w, meta)
	w.WriteHeader(http.StatusOK)
}

func (h *ObjectStoreHandler) deleteObject(w http.ResponseWriter, r *http.Request) {
	countRequest("DeleteObject")
	if err := h.checkPresign(r); err != nil {
		writeAccessDenied(w, err)
		return
	}
	bucket := chi.URLParam(r, "bucket")
	key, err := objectKey(r)
	if err != nil {
		writeObjectStoreError(w, err)
		return
	}

	if _, err := h.store.Delete(bucket, key); err != nil {
		writeObjectStoreError(w, err)
		return
	}
	// deletes are idempotent: absent keys still return 204
	w.WriteHeader(http.StatusNoContent)
}

func writeObjectHeaders(w http.ResponseWriter, meta *objectstore.ObjectMeta) {
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.Header().Set("ETag", `"`+meta.ETag+`"`)
	w.Header().Set("Last-Modified", meta.LastModified.UTC().Format(http.TimeFormat))
	for k, v := range meta.UserMetadata {
		w.Header().Set(userMetaPrefix+k, v)
	}
}

func writeAccessDenied(w http.ResponseWriter, err error) {
	metrics.RequestErrors.WithLabelValues(provider.ServiceObjectStore, "AccessDenied").Inc()
	body, _ := xml.Marshal(xmlError{Code: "AccessDenied", Message: err.Error()})
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusForbidden)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func writeXML(w http.ResponseWriter, status int, v any) {
	body, err := xml.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	w.Write([]byte(xml.Header))
	w.Write(body)
}
