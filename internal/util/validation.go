package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// MaxBucketNameLength is the maximum allowed length for S3 bucket names
	MaxBucketNameLength = 63
	// MinBucketNameLength is the minimum allowed length for S3 bucket names
	MinBucketNameLength = 3
	// MaxObjectKeyLength is the maximum allowed length for S3 object keys
	MaxObjectKeyLength = 1024
)

var (
	bucketCharsRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*$`)
	ipAddressRegex   = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
)

// ValidateBucketName validates an S3 bucket name according to AWS S3 naming
// rules: 3-63 characters of lowercase letters, digits, hyphens and dots,
// starting with a letter or digit, with every dot-separated label non-empty
// and not starting or ending with a hyphen. IP-address-shaped names are
// rejected.
func ValidateBucketName(bucket string) error {
	if len(bucket) < MinBucketNameLength {
		return fmt.Errorf("bucket name too short (min %d characters)", MinBucketNameLength)
	}
	if len(bucket) > MaxBucketNameLength {
		return fmt.Errorf("bucket name too long (max %d characters)", MaxBucketNameLength)
	}

	if !bucketCharsRegex.MatchString(bucket) {
		return fmt.Errorf("bucket name must be lowercase alphanumeric with dots and hyphens, starting with a letter or digit")
	}

	for _, label := range strings.Split(bucket, ".") {
		if label == "" {
			return fmt.Errorf("bucket name contains an empty dot-separated label")
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("bucket name label %q must not start or end with a hyphen", label)
		}
	}

	if ipAddressRegex.MatchString(bucket) {
		return fmt.Errorf("bucket name must not be formatted as an IP address")
	}

	return nil
}

// ValidateObjectKey validates an S3 object key. Keys embedding ".." path
// segments are rejected to keep every blob below its bucket directory.
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if len(key) > MaxObjectKeyLength {
		return fmt.Errorf("object key too long (max %d characters)", MaxObjectKeyLength)
	}

	for i, r := range key {
		if (r < 32 && r != '\t') || r == 127 {
			return fmt.Errorf("object key contains invalid control character at position %d", i)
		}
	}

	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("object key contains path traversal segment")
		}
	}

	return nil
}

// ParseCopySource extracts the source bucket and key from an
// x-amz-copy-source header value. The header may be percent-encoded and may
// carry a leading slash: "/sourcebucket/sourcekey" or "sourcebucket/sourcekey".
func ParseCopySource(header string) (bucket, key string, err error) {
	if header == "" {
		return "", "", fmt.Errorf("x-amz-copy-source header is empty")
	}

	decoded, err := url.PathUnescape(header)
	if err != nil {
		return "", "", fmt.Errorf("x-amz-copy-source is not valid percent-encoding: %w", err)
	}

	decoded = strings.TrimPrefix(decoded, "/")
	parts := strings.SplitN(decoded, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid x-amz-copy-source format: expected bucket/key")
	}

	if err := ValidateBucketName(parts[0]); err != nil {
		return "", "", err
	}
	if err := ValidateObjectKey(parts[1]); err != nil {
		return "", "", err
	}

	return parts[0], parts[1], nil
}
