package objectstore

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/fabric"
	"github.com/burrowdev/burrow/pkg/log"
)

var (
	// ErrBucketNotFound reports an operation against an unknown bucket.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrBucketExists reports a duplicate bucket create.
	ErrBucketExists = errors.New("bucket already exists")

	// ErrBucketNotEmpty blocks deleting a bucket that still holds objects.
	ErrBucketNotEmpty = errors.New("bucket not empty")

	// ErrObjectNotFound reports a read of an absent key.
	ErrObjectNotFound = errors.New("object not found")
)

// ObjectMeta is the sidecar metadata stored next to each payload.
type ObjectMeta struct {
	Key          string            `json:"key"`
	ContentType  string            `json:"contentType"`
	Size         int64             `json:"size"`
	ETag         string            `json:"etag"`
	UserMetadata map[string]string `json:"userMetadata,omitempty"`
	LastModified time.Time         `json:"lastModified"`
}

// Object is a full read: payload plus metadata.
type Object struct {
	ObjectMeta
	Body []byte
}

// ListResult is one page of a key listing.
type ListResult struct {
	Objects   []ObjectMeta
	NextToken string
	Truncated bool
}

// Store is the on-disk object store: payloads under <root>/<bucket>/...,
// metadata sidecars under <root>/.metadata/<bucket>/...
type Store struct {
	root       string
	dispatcher *fabric.NotificationDispatcher
	logger     zerolog.Logger
}

// NewStore creates a store rooted at dir. The dispatcher may be nil for
// a store without notifications.
func NewStore(dir string, dispatcher *fabric.NotificationDispatcher) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating object store root: %w", err)
	}
	return &Store{
		root:       dir,
		dispatcher: dispatcher,
		logger:     log.WithService("s3"),
	}, nil
}

const metadataDir = ".metadata"

// escapeKey maps an object key onto a relative filesystem path. Each
// slash-separated segment is escaped so keys can carry any byte without
// colliding with path syntax.
func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return filepath.Join(segs...)
}

func unescapeKey(rel string) (string, error) {
	segs := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segs {
		u, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		segs[i] = u
	}
	return strings.Join(segs, "/"), nil
}

func (s *Store) bucketDir(bucket string) string {
	return filepath.Join(s.root, bucket)
}

func (s *Store) objectPath(bucket, key string) string {
	return filepath.Join(s.root, bucket, escapeKey(key))
}

func (s *Store) metaPath(bucket, key string) string {
	return filepath.Join(s.root, metadataDir, bucket, escapeKey(key)+".json")
}

// CreateBucket makes an empty bucket.
func (s *Store) CreateBucket(bucket string) error {
	dir := s.bucketDir(bucket)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("%w: %s", ErrBucketExists, bucket)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.root, metadataDir, bucket), 0o755); err != nil {
		return err
	}
	s.logger.Info().Str("bucket", bucket).Msg("bucket created")
	return nil
}

// DeleteBucket removes an empty bucket. force drops its objects first.
func (s *Store) DeleteBucket(bucket string, force bool) error {
	dir := s.bucketDir(bucket)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if !force {
		keys, err := s.allKeys(bucket)
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			return fmt.Errorf("%w: %s", ErrBucketNotEmpty, bucket)
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.root, metadataDir, bucket)); err != nil {
		return err
	}
	s.logger.Info().Str("bucket", bucket).Msg("bucket deleted")
	return nil
}

// ListBuckets returns bucket names in sorted order.
func (s *Store) ListBuckets() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() != metadataDir {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// BucketExists reports whether a bucket is present.
func (s *Store) BucketExists(bucket string) bool {
	info, err := os.Stat(s.bucketDir(bucket))
	return err == nil && info.IsDir()
}

// Put writes an object and its sidecar, emitting ObjectCreated:Put.
// Overwrites are allowed. The returned ETag is the MD5 hex digest in
// double quotes.
func (s *Store) Put(bucket, key string, body []byte, contentType string, userMeta map[string]string) (string, error) {
	return s.write(bucket, key, body, contentType, userMeta, "s3:ObjectCreated:Put")
}

func (s *Store) write(bucket, key string, body []byte, contentType string, userMeta map[string]string, eventType string) (string, error) {
	if !s.BucketExists(bucket) {
		return "", fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}

	sum := md5.Sum(body)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	meta := ObjectMeta{
		Key:          key,
		ContentType:  contentType,
		Size:         int64(len(body)),
		ETag:         etag,
		UserMetadata: userMeta,
		LastModified: time.Now().UTC(),
	}

	path := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}

	mpath := s.metaPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(mpath), 0o755); err != nil {
		return "", err
	}
	raw, err := json.Marshal(&meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(mpath, raw, 0o644); err != nil {
		return "", err
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(fabric.ObjectEvent{
			Bucket:    bucket,
			Key:       key,
			EventType: eventType,
			Size:      meta.Size,
			ETag:      etag,
			Time:      meta.LastModified,
		})
	}
	return etag, nil
}

// Get reads an object and its metadata.
func (s *Store) Get(bucket, key string) (*Object, error) {
	meta, err := s.Head(bucket, key)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(s.objectPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, err
	}
	return &Object{ObjectMeta: *meta, Body: body}, nil
}

// Head reads metadata without the payload.
func (s *Store) Head(bucket, key string) (*ObjectMeta, error) {
	if !s.BucketExists(bucket) {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	raw, err := os.ReadFile(s.metaPath(bucket, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, err
	}
	var meta ObjectMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s/%s: %w", bucket, key, err)
	}
	return &meta, nil
}

// Delete removes an object and its sidecar, reporting whether it
// existed. Emits ObjectRemoved:Delete for objects that were present.
func (s *Store) Delete(bucket, key string) (bool, error) {
	if !s.BucketExists(bucket) {
		return false, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	path := s.objectPath(bucket, key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	if err := os.Remove(s.metaPath(bucket, key)); err != nil && !os.IsNotExist(err) {
		return false, err
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(fabric.ObjectEvent{
			Bucket:    bucket,
			Key:       key,
			EventType: "s3:ObjectRemoved:Delete",
			Time:      time.Now().UTC(),
		})
	}
	return true, nil
}

// Copy duplicates an object within or across buckets, emitting
// ObjectCreated:Copy on the destination.
func (s *Store) Copy(srcBucket, srcKey, dstBucket, dstKey string) (string, error) {
	src, err := s.Get(srcBucket, srcKey)
	if err != nil {
		return "", err
	}
	return s.write(dstBucket, dstKey, src.Body, src.ContentType, src.UserMetadata, "s3:ObjectCreated:Copy")
}

// allKeys returns every key in a bucket, sorted.
func (s *Store) allKeys(bucket string) ([]string, error) {
	dir := s.bucketDir(bucket)
	var keys []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key, err := unescapeKey(rel)
		if err != nil {
			return err
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// List pages keys in sorted order, filtered by prefix. The continuation
// token is an opaque cursor naming the last key of the previous page.
func (s *Store) List(bucket, prefix string, maxKeys int, token string) (*ListResult, error) {
	if !s.BucketExists(bucket) {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, bucket)
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	keys, err := s.allKeys(bucket)
	if err != nil {
		return nil, err
	}

	startAfter := ""
	if token != "" {
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return nil, fmt.Errorf("invalid continuation token")
		}
		startAfter = string(raw)
	}

	out := &ListResult{}
	for _, key := range keys {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		if startAfter != "" && key <= startAfter {
			continue
		}
		if len(out.Objects) == maxKeys {
			out.Truncated = true
			last := out.Objects[len(out.Objects)-1].Key
			out.NextToken = base64.RawURLEncoding.EncodeToString([]byte(last))
			return out, nil
		}
		meta, err := s.Head(bucket, key)
		if err != nil {
			return nil, err
		}
		out.Objects = append(out.Objects, *meta)
	}
	return out, nil
}
