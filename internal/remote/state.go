package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// sessionState is the persisted form of an authenticated bridge session:
// the cookies the jar holds for the bridge origin plus the session header.
type sessionState struct {
	Cookies []stateCookie `json:"cookies"`
	Token   string        `json:"token,omitempty"`
}

type stateCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Path  string `json:"path,omitempty"`
}

// scopedJar is a cookie jar that remembers the path each cookie was
// scoped to, which cookiejar.Jar does not report back.
type scopedJar struct {
	mu    sync.Mutex
	jar   *cookiejar.Jar
	paths map[string]string
}

func newScopedJar() (*scopedJar, error) {
	j := &scopedJar{}
	if err := j.reset(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *scopedJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ck := range cookies {
		j.paths[ck.Name] = cookiePath(u, ck)
	}
	j.jar.SetCookies(u, cookies)
}

func (j *scopedJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// reset drops every cookie.
func (j *scopedJar) reset() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = jar
	j.paths = map[string]string{}
	return nil
}

// live returns the cookies still held for base, each with its path.
func (j *scopedJar) live(base *url.URL) []stateCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.paths))
	for name := range j.paths {
		names = append(names, name)
	}
	slices.Sort(names)

	var out []stateCookie
	for _, name := range names {
		u := *base
		u.Path = j.paths[name]
		for _, ck := range j.jar.Cookies(&u) {
			if ck.Name == name {
				out = append(out, stateCookie{Name: name, Value: ck.Value, Path: u.Path})
				break
			}
		}
	}
	return out
}

// cookiePath is the path a cookie set from u applies to (RFC 6265 5.1.4
// when the attribute is missing).
func cookiePath(u *url.URL, ck *http.Cookie) string {
	if strings.HasPrefix(ck.Path, "/") {
		return ck.Path
	}
	p := u.Path
	i := strings.LastIndex(p, "/")
	if !strings.HasPrefix(p, "/") || i <= 0 {
		return "/"
	}
	return p[:i]
}

// ExportSessionState returns an opaque blob that a later Login can resume
// from.
func (c *Client) ExportSessionState(context.Context) ([]byte, error) {
	st := sessionState{Token: c.sessionToken(), Cookies: c.jar.live(c.base)}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("remote: export session: %w", err)
	}
	return b, nil
}

func (c *Client) restore(blob []byte) error {
	var st sessionState
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("remote: decode session state: %w", err)
	}
	for _, ck := range st.Cookies {
		if ck.Name == "" {
			continue
		}
		path := ck.Path
		if !strings.HasPrefix(path, "/") {
			path = "/"
		}
		u := *c.base
		u.Path = path
		c.jar.SetCookies(&u, []*http.Cookie{{Name: ck.Name, Value: ck.Value, Path: path}})
	}
	if st.Token != "" {
		c.setSessionToken(st.Token)
	}
	return nil
}

// forget drops the cookies and session token, so a rejected session is
// not replayed on the next attempt.
func (c *Client) forget() {
	if err := c.jar.reset(); err != nil {
		c.logger.Warn("reset cookie jar", zap.Error(err))
	}
	c.setSessionToken("")
}
