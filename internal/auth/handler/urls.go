package handler

import (
	"net/http"
	"net/url"
	"strings"
)

const redirectAuthPath = "/api/dingtalk/redirect-auth"

func firstHeaderValue(r *http.Request, name string) string {
	v, _, _ := strings.Cut(r.Header.Get(name), ",")
	return strings.TrimSpace(v)
}

// baseURL is the externally visible root of this service.
func (h *Handler) baseURL(r *http.Request) string {
	if h.opts.PublicURL != "" {
		return strings.TrimRight(h.opts.PublicURL, "/")
	}

	scheme := firstHeaderValue(r, "X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := firstHeaderValue(r, "X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	path := strings.Trim(h.opts.PublicPath, "/")
	if path != "" {
		path = "/" + path
	}
	return scheme + "://" + host + path
}

// callbackURL is where DingTalk sends the browser back with the code.
func (h *Handler) callbackURL(r *http.Request, authenticator, redirect string) string {
	q := url.Values{}
	q.Set("authenticator", authenticator)
	q.Set("redirect", redirect)
	return h.baseURL(r) + redirectAuthPath + "?" + q.Encode()
}

// isRelativePath accepts same-origin paths only, so the callback cannot
// be turned into an open redirect.
func isRelativePath(p string) bool {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, `/\`) {
		return false
	}
	u, err := url.Parse(p)
	return err == nil && u.Scheme == "" && u.Host == ""
}

// signedInURL appends the authenticator and session token to the target.
func (h *Handler) signedInURL(redirect, authenticator, token string) string {
	target := h.opts.DefaultRedirect
	if isRelativePath(redirect) {
		target = redirect
	}

	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("authenticator", authenticator)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
