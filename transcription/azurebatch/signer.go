package azurebatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// signRequest computes the SharedKey authorization header for a blob storage
// request: base64(HMAC-SHA256(decoded key, canonicalized string)) presented
// as "SharedKey <account>:<signature>".
func signRequest(r *http.Request, account, encodedKey string) error {
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return fmt.Errorf("decode storage key: %w", err)
	}

	canonical := canonicalizedString(r, account)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	r.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", account, signature))
	return nil
}

// canonicalizedString assembles the string-to-sign: method, the fixed header
// slots, the sorted x-ms-* headers, and the canonicalized resource path.
func canonicalizedString(r *http.Request, account string) string {
	contentLength := ""
	if r.ContentLength > 0 {
		contentLength = fmt.Sprintf("%d", r.ContentLength)
	}

	slots := []string{
		r.Method,
		r.Header.Get("Content-Encoding"),
		r.Header.Get("Content-Language"),
		contentLength,
		r.Header.Get("Content-MD5"),
		r.Header.Get("Content-Type"),
		r.Header.Get("Date"),
		r.Header.Get("If-Modified-Since"),
		r.Header.Get("If-Match"),
		r.Header.Get("If-None-Match"),
		r.Header.Get("If-Unmodified-Since"),
		r.Header.Get("Range"),
	}

	var b strings.Builder
	b.WriteString(strings.Join(slots, "\n"))
	b.WriteString("\n")
	b.WriteString(canonicalizedHeaders(r))
	b.WriteString(canonicalizedResource(r, account))
	return b.String()
}

// canonicalizedHeaders returns the sorted x-ms-* headers as "name:value\n".
func canonicalizedHeaders(r *http.Request) string {
	var names []string
	for name := range r.Header {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "x-ms-") {
			names = append(names, lower)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteString(":")
		b.WriteString(strings.TrimSpace(r.Header.Get(name)))
		b.WriteString("\n")
	}
	return b.String()
}

// canonicalizedResource returns "/<account><path>" plus sorted query
// parameters as "\nname:value".
func canonicalizedResource(r *http.Request, account string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(account)
	b.WriteString(r.URL.Path)

	query := r.URL.Query()
	var params []string
	for param := range query {
		params = append(params, strings.ToLower(param))
	}
	sort.Strings(params)
	for _, param := range params {
		values := query[param]
		sort.Strings(values)
		b.WriteString("\n")
		b.WriteString(param)
		b.WriteString(":")
		b.WriteString(strings.Join(values, ","))
	}
	return b.String()
}
