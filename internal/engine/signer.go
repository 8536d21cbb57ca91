package engine

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	signAlgorithm   = "SDK-HMAC-SHA256"
	headerSdkDate   = "X-Sdk-Date"
	sdkDateFormat   = "20060102T150405Z"
	headerAuthorize = "Authorization"
)

// Signer signs requests with an access key / secret key pair using the
// SDK-HMAC-SHA256 scheme expected by the engine's API gateway.
type Signer struct {
	AccessKey string
	SecretKey string

	now func() time.Time
}

// NewSigner returns a Signer for the given credentials.
func NewSigner(accessKey, secretKey string) *Signer {
	return &Signer{AccessKey: accessKey, SecretKey: secretKey, now: time.Now}
}

// Sign sets the X-Sdk-Date, Host and Authorization headers on req.
// The request body is read and restored.
func (s *Signer) Sign(req *http.Request) error {
	body, err := readBody(req)
	if err != nil {
		return fmt.Errorf("reading request body: %w", err)
	}

	req.Header.Set(headerSdkDate, s.now().UTC().Format(sdkDateFormat))
	// net/http sends req.Host, not the header; it is set here for signing.
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	req.Header.Set("Host", host)

	signed := signedHeaders(req)
	canonical := canonicalRequest(req, signed, body)
	toSign := stringToSign(canonical, req.Header.Get(headerSdkDate))

	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write([]byte(toSign))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set(headerAuthorize, fmt.Sprintf("%s Access=%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, s.AccessKey, strings.Join(signed, ";"), signature))
	return nil
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return body, nil
}

func canonicalRequest(req *http.Request, signed []string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{
		req.Method,
		canonicalURI(req.URL),
		canonicalQuery(req.URL),
		canonicalHeaders(req, signed),
		strings.Join(signed, ";"),
		hex.EncodeToString(sum[:]),
	}, "\n")
}

func stringToSign(canonical, date string) string {
	sum := sha256.Sum256([]byte(canonical))
	return fmt.Sprintf("%s\n%s\n%s", signAlgorithm, date, hex.EncodeToString(sum[:]))
}

// canonicalURI escapes every path segment and always ends with a slash.
func canonicalURI(u *url.URL) string {
	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		segments[i] = escape(seg)
	}
	p := strings.Join(segments, "/")
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func canonicalQuery(u *url.URL) string {
	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func canonicalHeaders(req *http.Request, signed []string) string {
	var b strings.Builder
	for _, k := range signed {
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(strings.TrimSpace(headerValue(req, k)))
		b.WriteByte('\n')
	}
	return b.String()
}

func headerValue(req *http.Request, lowerKey string) string {
	for k, v := range req.Header {
		if strings.ToLower(k) == lowerKey {
			return strings.Join(v, ",")
		}
	}
	return ""
}

// signedHeaders returns the lowercased header names, sorted.
func signedHeaders(req *http.Request) []string {
	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		lk := strings.ToLower(k)
		if lk == "authorization" || lk == "content-length" {
			continue
		}
		keys = append(keys, lk)
	}
	sort.Strings(keys)
	return keys
}

// escape percent-encodes everything outside the RFC 3986 unreserved set.
func escape(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('A' <= c && c <= 'Z') || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&15])
	}
	return b.String()
}
