package objectstore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignRoundTrip(t *testing.T) {
	signer := NewSigner("secret", "http://localhost:4560/s3")

	u, err := signer.Presign("photos", "albums/cat.jpg", "GET", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://localhost:4560/s3/photos/albums/cat.jpg?"))

	bucket, key, err := signer.Validate(u, "GET")
	require.NoError(t, err)
	assert.Equal(t, "photos", bucket)
	assert.Equal(t, "albums/cat.jpg", key)

	// method is case-insensitive on validation
	_, _, err = signer.Validate(u, "get")
	assert.NoError(t, err)
}

func TestPresignRejectsWrongMethod(t *testing.T) {
	signer := NewSigner("secret", "http://localhost:4560/s3")
	u, err := signer.Presign("b", "k", "PUT", time.Minute)
	require.NoError(t, err)

	_, _, err = signer.Validate(u, "GET")
	assert.Error(t, err)
}

func TestPresignRejectsExpired(t *testing.T) {
	signer := NewSigner("secret", "http://localhost:4560/s3")
	u, err := signer.Presign("b", "k", "GET", -time.Minute)
	require.NoError(t, err)

	_, _, err = signer.Validate(u, "GET")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestPresignRejectsTampering(t *testing.T) {
	signer := NewSigner("secret", "http://localhost:4560/s3")
	u, err := signer.Presign("b", "private.txt", "GET", time.Minute)
	require.NoError(t, err)

	tampered := strings.Replace(u, "private.txt", "other.txt", 1)
	_, _, err = signer.Validate(tampered, "GET")
	assert.Error(t, err)
}

func TestPresignRejectsWrongKey(t *testing.T) {
	signer := NewSigner("secret", "http://localhost:4560/s3")
	other := NewSigner("different", "http://localhost:4560/s3")

	u, err := signer.Presign("b", "k", "GET", time.Minute)
	require.NoError(t, err)

	_, _, err = other.Validate(u, "GET")
	assert.Error(t, err)
}

func TestPresignUnsupportedMethod(t *testing.T) {
	signer := NewSigner("secret", "")
	_, err := signer.Presign("b", "k", "PATCH", time.Minute)
	assert.Error(t, err)
}
