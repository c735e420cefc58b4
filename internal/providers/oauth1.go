package providers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// oauth1Signer signs requests per RFC 5849 (HMAC-SHA1). It backs the legacy
// request-token/verifier flow used by providers that never moved to
// OAuth 2.0.
type oauth1Signer struct {
	consumerKey    string
	consumerSecret string
}

// authorizationHeader builds the OAuth Authorization header for a request.
// token/tokenSecret are empty during the initial request-token call.
func (s oauth1Signer) authorizationHeader(method, rawURL string, extra map[string]string, token, tokenSecret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid oauth1 request URL: %w", err)
	}

	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate oauth1 nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            hex.EncodeToString(nonce),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", time.Now().Unix()),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauthParams["oauth_token"] = token
	}
	for k, v := range extra {
		oauthParams[k] = v
	}

	// Signature base string covers the oauth params plus any query params.
	all := make(map[string]string, len(oauthParams))
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			all[k] = vs[0]
		}
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(all[k]))
	}

	baseURL := u.Scheme + "://" + u.Host + u.Path
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(pairs, "&"))

	signingKey := percentEncode(s.consumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headerKeys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	headerPairs := make([]string, 0, len(headerKeys))
	for _, k := range headerKeys {
		headerPairs = append(headerPairs, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauthParams[k])))
	}
	return "OAuth " + strings.Join(headerPairs, ", "), nil
}

// percentEncode implements RFC 3986 encoding as OAuth 1.0a requires it
// (space as %20, uppercase hex). url.QueryEscape is close but encodes
// spaces as '+'.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// pendingAuthorization is the server-side context of an in-flight
// request-token flow. The legacy flow has no state parameter, so the
// original authorization context is stored here, keyed by the request
// token, and looked up when the callback arrives.
type pendingAuthorization struct {
	TenantID    uuid.UUID
	TokenSecret string
	RedirectURI string
	CreatedAt   time.Time
}

// pendingAuthStore is an in-memory, single-use store of pending
// request-token authorizations with a fixed TTL.
type pendingAuthStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]pendingAuthorization
}

func newPendingAuthStore(ttl time.Duration) *pendingAuthStore {
	return &pendingAuthStore{
		ttl:     ttl,
		entries: make(map[string]pendingAuthorization),
	}
}

func (p *pendingAuthStore) put(requestToken string, auth pendingAuthorization) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Opportunistic pruning keeps abandoned flows from accumulating.
	for token, entry := range p.entries {
		if time.Since(entry.CreatedAt) > p.ttl {
			delete(p.entries, token)
		}
	}
	p.entries[requestToken] = auth
}

// take retrieves and deletes the pending authorization, enforcing
// single-use semantics. Expired entries are treated as missing.
func (p *pendingAuthStore) take(requestToken string) (pendingAuthorization, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	auth, ok := p.entries[requestToken]
	if !ok {
		return pendingAuthorization{}, false
	}
	delete(p.entries, requestToken)
	if time.Since(auth.CreatedAt) > p.ttl {
		return pendingAuthorization{}, false
	}
	return auth, true
}
