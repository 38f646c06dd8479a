package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Signature related constants.
const (
	Algorithm       = "AWS4-HMAC-SHA256"
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	HeaderAmzDate       = "x-amz-date"
	HeaderAmzContentSha = "x-amz-content-sha256"
	HeaderAuthorization = "Authorization"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"

	requestSuffix = "aws4_request"
)

// Credentials are the long-term access key pair used to derive signing keys.
// They are read once from configuration and never persisted by this package.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
}

// Signer computes SigV4 authorization headers for S3-compatible requests in
// unsigned-payload mode. It performs no I/O; signing a request is a pure
// function of (credentials, request description, time).
type Signer struct {
	creds   Credentials
	region  string
	service string
}

type Option func(*Signer)

// WithRegion overrides the default region ("auto", as required by
// R2-compatible providers).
func WithRegion(region string) Option {
	return func(s *Signer) { s.region = region }
}

// WithService overrides the default service ("s3").
func WithService(service string) Option {
	return func(s *Signer) { s.service = service }
}

func NewSigner(creds Credentials, opts ...Option) *Signer {
	s := &Signer{
		creds:   creds,
		region:  "auto",
		service: "s3",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sign returns a copy of headers augmented with x-amz-date and Authorization
// for the given method and canonical path. The path must be the literal path
// component of the request URL, starting with "/<bucket>/". Header names are
// treated case-insensitively; values are trimmed during canonicalization.
//
// A signature is only valid for a short provider-defined window around now,
// so callers must sign immediately before sending and re-sign on retry.
func (s *Signer) Sign(method, path string, headers map[string]string, now time.Time) map[string]string {
	amzDate := now.UTC().Format(amzDateFormat)
	dateStamp := now.UTC().Format(dateStampFormat)

	signed := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		signed[k] = v
	}
	signed[HeaderAmzDate] = amzDate

	canonicalHeaders, signedHeaderList := canonicalizeHeaders(signed)

	canonicalRequest := strings.Join([]string{
		method,
		path,
		"", // canonical query string; all operations here are query-free
		canonicalHeaders,
		signedHeaderList,
		UnsignedPayload,
	}, "\n")

	scope := strings.Join([]string{dateStamp, s.region, s.service, requestSuffix}, "/")

	stringToSign := strings.Join([]string{
		Algorithm,
		amzDate,
		scope,
		hashHex([]byte(canonicalRequest)),
	}, "\n")

	signature := hex.EncodeToString(hmacSHA256(s.signingKey(dateStamp), stringToSign))

	signed[HeaderAuthorization] = fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		Algorithm,
		s.creds.AccessKeyID,
		scope,
		signedHeaderList,
		signature,
	)
	return signed
}

// canonicalizeHeaders returns the canonical-headers block (one
// "lowercase-name:trimmed-value" line per header, sorted, with a trailing
// newline) and the semicolon-joined signed-headers list.
func canonicalizeHeaders(headers map[string]string) (string, string) {
	names := make([]string, 0, len(headers))
	byName := make(map[string]string, len(headers))
	for k, v := range headers {
		name := strings.ToLower(strings.TrimSpace(k))
		names = append(names, name)
		byName[name] = strings.TrimSpace(v)
	}
	sort.Strings(names)

	var block strings.Builder
	for _, name := range names {
		block.WriteString(name)
		block.WriteByte(':')
		block.WriteString(byName[name])
		block.WriteByte('\n')
	}
	return block.String(), strings.Join(names, ";")
}

// signingKey derives the per-day key via the four chained HMAC operations.
func (s *Signer) signingKey(dateStamp string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+s.creds.SecretAccessKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.region)
	kService := hmacSHA256(kRegion, s.service)
	return hmacSHA256(kService, requestSuffix)
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
