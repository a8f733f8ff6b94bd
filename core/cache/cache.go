// Package cache decides Cache-Control headers and validates ETags for
// module handlers.
//
// An ETag has the form "<releaseId>:<timestamp>:<clientSetAt>". The first
// two parts identify the document version: the release of the running
// code and the time the document's cache was last invalidated, in Unix
// milliseconds. The third part is when the client received the tag, so
// the server can bound how long a client may revalidate against it.
package cache

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/modhost/core/module"
	"github.com/rs/zerolog"
)

// Session keys that may be present with an empty value on a cacheable
// request.
var transientSessionKeys = map[string]bool{
	"flash":    true,
	"passport": true,
}

// Document is anything whose cache can be invalidated.
type Document interface {
	// CacheInvalidatedAt returns when the document's cache was last
	// invalidated, or false if it never tracks invalidation.
	CacheInvalidatedAt() (time.Time, bool)
}

// ReleaseResolver identifies the running release.
type ReleaseResolver interface {
	ReleaseID() string
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Controller makes per-request cache decisions.
type Controller struct {
	release ReleaseResolver
	clock   Clock
	logger  zerolog.Logger
}

// New creates a controller using the wall clock.
func New(release ReleaseResolver, logger zerolog.Logger) *Controller {
	return &Controller{release: release, clock: SystemClock{}, logger: logger}
}

// SetClock replaces the controller's clock.
func (c *Controller) SetClock(clock Clock) {
	c.clock = clock
}

// IsSafeToCache reports whether a response to req may be stored by
// shared caches. Authenticated requests, error responses and requests
// carrying session data are never cacheable.
func (c *Controller) IsSafeToCache(req *module.Request) bool {
	if req.Authenticated() {
		return false
	}
	if req.Status() >= 400 {
		return false
	}

	sess := req.Session()
	if sess == nil {
		return true
	}
	for key, val := range sess.Values {
		if key == module.SessionCookieKey {
			continue
		}
		if transientSessionKeys[key] && isEmpty(val) {
			continue
		}
		return false
	}
	return true
}

// SetMaxAge sets "Cache-Control: max-age=<seconds>" when the response is
// safe to cache and "no-store" otherwise. A non-numeric or negative
// seconds value is logged and ignored.
func (c *Controller) SetMaxAge(req *module.Request, seconds any) {
	n, ok := toSeconds(seconds)
	if !ok {
		c.logger.Warn().
			Str("module", moduleName(req)).
			Str("route", req.Route).
			Str("value", fmt.Sprintf("%v", seconds)).
			Msg("max-age must be a non-negative number, cache headers left unchanged")
		return
	}

	if c.IsSafeToCache(req) {
		req.ResponseHeader().Set("Cache-Control", "max-age="+strconv.FormatInt(n, 10))
	} else {
		req.ResponseHeader().Set("Cache-Control", "no-store")
	}
}

// GenerateParts returns the release id and invalidation timestamp of
// doc, or nil if doc has no invalidation timestamp.
func (c *Controller) GenerateParts(doc Document) []string {
	if doc == nil {
		return nil
	}
	at, ok := doc.CacheInvalidatedAt()
	if !ok || at.IsZero() {
		return nil
	}
	return []string{c.releaseID(), strconv.FormatInt(at.UnixMilli(), 10)}
}

// CheckETag validates the client's If-None-Match against doc.
//
// On a hit the client's tag is sent back unchanged and true is returned;
// the handler should answer 304. On a miss a fresh tag stamped with the
// current time is set and false is returned. Uncacheable requests and
// documents without an invalidation timestamp are always a miss and get
// no tag.
func (c *Controller) CheckETag(req *module.Request, doc Document, maxAge int) bool {
	parts := c.GenerateParts(doc)
	if parts == nil || !c.IsSafeToCache(req) {
		return false
	}

	client := parseETag(req.Header.Get("If-None-Match"))
	now := c.clock.Now().UnixMilli()

	if len(client) == 3 && client[0] == parts[0] && client[1] == parts[1] {
		setAt, err := strconv.ParseInt(client[2], 10, 64)
		if err == nil && now-setAt <= int64(maxAge)*1000 {
			setETag(req, client)
			return true
		}
	}

	setETag(req, append(parts, strconv.FormatInt(now, 10)))
	return false
}

func (c *Controller) releaseID() string {
	if c.release == nil {
		return ""
	}
	return c.release.ReleaseID()
}

func setETag(req *module.Request, parts []string) {
	req.ResponseHeader().Set("ETag", strings.Join(parts, ":"))
}

// parseETag splits a client tag, tolerating a weak prefix and quotes.
func parseETag(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	return strings.Split(v, ":")
}

func toSeconds(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		return n, n >= 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		return int64(n), n <= math.MaxInt64
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func moduleName(req *module.Request) string {
	if req.Module == nil {
		return ""
	}
	return req.Module.Name
}
