package security

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"proxy-authorization": true,
}

// Sensitive field names in JSON bodies and query strings.
var sensitiveFields = []string{
	"password",
	"passphrase",
	"secret",
	"token",
	"key",
	"authorization",
	"private_key",
	"certificate",
	"credential",
	"auth",
}

// XML elements whose content must never reach logs: signature material, the embedded
// certificate and the base64 payload of a reception request (it contains both).
var sensitiveXMLElements = []string{
	"SignatureValue",
	"X509Certificate",
	"Modulus",
	"xml",
}

var xmlElementPatterns = buildXMLPatterns(sensitiveXMLElements)

const redactedValue = "[REDACTED]"

func buildXMLPatterns(names []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(names))
	for _, name := range names {
		// Matches <name>, <ds:name>, <ns2:name attr="..."> and the closing tag.
		expr := fmt.Sprintf(`(?s)(<(?:[\w-]+:)?%s(?:\s[^>]*)?>)(.*?)(</(?:[\w-]+:)?%s>)`, name, name)
		patterns = append(patterns, regexp.MustCompile(expr))
	}
	return patterns
}

// SanitizeHeaders returns a copy of headers with sensitive values redacted.
func SanitizeHeaders(headers http.Header) map[string]string {
	sanitized := make(map[string]string, len(headers))
	for key, values := range headers {
		if sensitiveHeaders[strings.ToLower(key)] {
			sanitized[key] = redactedValue
			continue
		}
		sanitized[key] = strings.Join(values, ", ")
	}
	return sanitized
}

// SanitizeBody redacts sensitive content from a request or response body and returns it
// as text suitable for logs and the audit table. XML bodies have signature material
// removed, JSON bodies have sensitive fields redacted. Compressed and binary payloads are
// described instead of copied.
func SanitizeBody(body []byte, maxSize int) string {
	if len(body) == 0 {
		return ""
	}

	if len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b {
		decompressed, err := decompressGzip(body)
		if err != nil {
			return describeBinary(body, "gzip-compressed (decompression failed)")
		}
		body = decompressed
	}

	if !utf8.Valid(body) {
		return describeBinary(body, "binary (non-UTF8)")
	}

	trimmed := bytes.TrimSpace(body)
	var sanitized string
	switch {
	case len(trimmed) > 0 && trimmed[0] == '<':
		sanitized = SanitizeXML(string(trimmed))
	case json.Valid(trimmed):
		sanitized = sanitizeJSON(trimmed)
	default:
		sanitized = string(body)
	}

	return truncate(sanitized, maxSize)
}

// SanitizeXML replaces the content of sensitive elements with a redaction marker.
func SanitizeXML(doc string) string {
	for _, pattern := range xmlElementPatterns {
		doc = pattern.ReplaceAllString(doc, "${1}"+redactedValue+"${3}")
	}
	return doc
}

func sanitizeJSON(body []byte) string {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body)
	}
	result, err := json.Marshal(sanitizeValue(data))
	if err != nil {
		return string(body)
	}
	return string(result)
}

func truncate(s string, maxSize int) string {
	if maxSize <= 0 || len(s) <= maxSize {
		return s
	}
	return fmt.Sprintf("%s...[truncated %d bytes]", s[:maxSize], len(s)-maxSize)
}

func decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func describeBinary(data []byte, format string) string {
	preview := data
	if len(preview) > 64 {
		preview = preview[:64]
	}
	return fmt.Sprintf("[%s, %d bytes, base64 prefix %s]", format, len(data), base64.StdEncoding.EncodeToString(preview))
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		sanitized := make(map[string]any, len(val))
		for key, value := range val {
			if isSensitiveField(key) {
				sanitized[key] = redactedValue
			} else {
				sanitized[key] = sanitizeValue(value)
			}
		}
		return sanitized
	case []any:
		sanitized := make([]any, len(val))
		for i, value := range val {
			sanitized[i] = sanitizeValue(value)
		}
		return sanitized
	default:
		return val
	}
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lower, field) {
			return true
		}
	}
	return false
}

// SanitizeURL redacts sensitive query parameters from a URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	parts := strings.Split(u.RawQuery, "&")
	changed := false
	for i, part := range parts {
		name, _, found := strings.Cut(part, "=")
		if found && isSensitiveField(name) {
			parts[i] = name + "=" + redactedValue
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = strings.Join(parts, "&")
	return u.String()
}
