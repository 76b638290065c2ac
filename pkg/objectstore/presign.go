package objectstore

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Presigned-URL query parameter names. The scheme is HMAC over
// method|bucket|key|expiry with the configured signing key; it is not
// compatible with SigV4 and the URLs are not portable.
const (
	paramMethod    = "X-Burrow-Method"
	paramExpires   = "X-Burrow-Expires"
	paramSignature = "X-Burrow-Signature"
)

// Signer mints and validates presigned object URLs.
type Signer struct {
	key     []byte
	baseURL string
}

// NewSigner creates a signer. baseURL is the externally visible endpoint
// prefix, e.g. http://localhost:4560/s3.
func NewSigner(key, baseURL string) *Signer {
	return &Signer{key: []byte(key), baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Signer) signature(method, bucket, key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%s|%s|%d", strings.ToUpper(method), bucket, key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Presign builds a URL granting method access to bucket/key until
// expiresIn from now.
func (s *Signer) Presign(bucket, key, method string, expiresIn time.Duration) (string, error) {
	switch strings.ToUpper(method) {
	case "GET", "PUT", "HEAD", "DELETE":
	default:
		return "", fmt.Errorf("unsupported presign method %q", method)
	}
	expires := time.Now().Add(expiresIn).Unix()

	q := url.Values{}
	q.Set(paramMethod, strings.ToUpper(method))
	q.Set(paramExpires, strconv.FormatInt(expires, 10))
	q.Set(paramSignature, s.signature(method, bucket, key, expires))

	escaped := make([]string, 0, 4)
	for _, seg := range strings.Split(key, "/") {
		escaped = append(escaped, url.PathEscape(seg))
	}
	return fmt.Sprintf("%s/%s/%s?%s", s.baseURL, bucket, strings.Join(escaped, "/"), q.Encode()), nil
}

// Validate checks a presigned URL: signature, expiry, and method must
// all hold. Returns the (bucket, key) the URL grants on success.
func (s *Signer) Validate(rawURL, method string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid url: %w", err)
	}

	path := strings.TrimPrefix(u.Path, "/")
	if s.baseURL != "" {
		if base, perr := url.Parse(s.baseURL); perr == nil && base.Path != "" {
			path = strings.TrimPrefix("/"+path, base.Path)
			path = strings.TrimPrefix(path, "/")
		}
	}
	bucket, rest, ok := strings.Cut(path, "/")
	if !ok || bucket == "" || rest == "" {
		return "", "", fmt.Errorf("url does not address an object")
	}
	key, err = unescapeKey(rest)
	if err != nil {
		return "", "", fmt.Errorf("invalid object key: %w", err)
	}

	q := u.Query()
	wantMethod := q.Get(paramMethod)
	if !strings.EqualFold(wantMethod, method) {
		return "", "", fmt.Errorf("url is signed for %s, not %s", wantMethod, strings.ToUpper(method))
	}
	expires, err := strconv.ParseInt(q.Get(paramExpires), 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("invalid expiry")
	}
	if time.Now().Unix() > expires {
		return "", "", fmt.Errorf("url expired")
	}

	want := s.signature(wantMethod, bucket, key, expires)
	got := q.Get(paramSignature)
	if !hmac.Equal([]byte(want), []byte(got)) {
		return "", "", fmt.Errorf("signature mismatch")
	}
	return bucket, key, nil
}
