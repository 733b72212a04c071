package routing

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LocalEndpoint marks routes answered without a network call.
const LocalEndpoint = "local"

type Method string

const (
	MethodPost  Method = "POST"
	MethodReply Method = "REPLY"
)

type RouteConfig struct {
	Endpoint     string
	Method       Method
	Timeout      time.Duration
	Retries      int
	RequiresAuth bool
	Headers      map[string]string
}

func (r RouteConfig) IsLocal() bool {
	return r.Method == MethodReply
}

// Table is the immutable route and auto-reply table. The zero value is not
// usable; build one with Load or Default.
type Table struct {
	routes  map[ContentType]RouteConfig
	replies map[ContentType]string
}

//go:embed routes.yaml
var defaultRoutes []byte

type document struct {
	Routes  map[string]routeSpec `yaml:"routes"`
	Replies map[string]string    `yaml:"replies"`
}

type routeSpec struct {
	Endpoint     string            `yaml:"endpoint"`
	Method       string            `yaml:"method"`
	TimeoutMS    int               `yaml:"timeout_ms"`
	Retries      *int              `yaml:"retries"`
	RequiresAuth bool              `yaml:"requires_auth"`
	Headers      map[string]string `yaml:"headers"`
}

// Default returns the table built from the embedded routes.yaml.
func Default() (*Table, error) {
	return Load(bytes.NewReader(defaultRoutes))
}

// LoadFile builds the table from path, or the embedded default when path is empty.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open routes file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes and validates a route document. Every content type must have
// exactly one route and an "unknown" auto-reply must be present.
func Load(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}

	var errs []error
	t := &Table{
		routes:  make(map[ContentType]RouteConfig, len(doc.Routes)),
		replies: make(map[ContentType]string, len(doc.Replies)),
	}

	for key, text := range doc.Replies {
		ct := ContentType(key)
		if ct != ContentUnknown && !ct.Valid() {
			errs = append(errs, fmt.Errorf("reply %q: unknown content type", key))
			continue
		}
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("reply %q: empty text", key))
			continue
		}
		t.replies[ct] = text
	}
	if _, ok := t.replies[ContentUnknown]; !ok {
		errs = append(errs, errors.New(`reply "unknown" is required`))
	}

	for key, spec := range doc.Routes {
		ct := ContentType(key)
		if !ct.Valid() {
			errs = append(errs, fmt.Errorf("route %q: unknown content type", key))
			continue
		}
		route, err := spec.build()
		if err != nil {
			errs = append(errs, fmt.Errorf("route %q: %w", key, err))
			continue
		}
		if route.IsLocal() {
			if _, ok := t.replies[ct]; !ok {
				errs = append(errs, fmt.Errorf("route %q: local route has no reply", key))
				continue
			}
		}
		t.routes[ct] = route
	}

	for _, ct := range ContentTypes {
		if _, ok := doc.Routes[string(ct)]; !ok {
			errs = append(errs, fmt.Errorf("route %q: missing", ct))
		}
	}

	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return nil, fmt.Errorf("invalid route table: %w", errors.Join(errs...))
	}
	return t, nil
}

func (s routeSpec) build() (RouteConfig, error) {
	method := Method(strings.ToUpper(s.Method))
	switch method {
	case MethodPost, MethodReply:
	default:
		return RouteConfig{}, fmt.Errorf("unsupported method %q", s.Method)
	}
	if s.Endpoint == "" {
		return RouteConfig{}, errors.New("endpoint is required")
	}
	if method == MethodReply && s.Endpoint != LocalEndpoint {
		return RouteConfig{}, fmt.Errorf("REPLY route must use endpoint %q", LocalEndpoint)
	}
	if method == MethodPost && !strings.HasPrefix(s.Endpoint, "/") {
		return RouteConfig{}, fmt.Errorf("POST endpoint %q must be a path", s.Endpoint)
	}
	if s.TimeoutMS <= 0 {
		return RouteConfig{}, errors.New("timeout_ms must be positive")
	}
	if s.Retries == nil {
		return RouteConfig{}, errors.New("retries is required")
	}
	if *s.Retries < 0 {
		return RouteConfig{}, errors.New("retries must not be negative")
	}
	headers := make(map[string]string, len(s.Headers))
	for k, v := range s.Headers {
		headers[k] = v
	}
	return RouteConfig{
		Endpoint:     s.Endpoint,
		Method:       method,
		Timeout:      time.Duration(s.TimeoutMS) * time.Millisecond,
		Retries:      *s.Retries,
		RequiresAuth: s.RequiresAuth,
		Headers:      headers,
	}, nil
}

// Lookup returns the route for ct. A missing key is a normal outcome; callers
// answer with Reply(ContentUnknown).
func (t *Table) Lookup(ct ContentType) (RouteConfig, bool) {
	route, ok := t.routes[ct]
	if !ok {
		return RouteConfig{}, false
	}
	headers := make(map[string]string, len(route.Headers))
	for k, v := range route.Headers {
		headers[k] = v
	}
	route.Headers = headers
	return route, true
}

// Reply returns the canned response for ct, or the "unknown" text.
func (t *Table) Reply(ct ContentType) string {
	if text, ok := t.replies[ct]; ok {
		return text
	}
	return t.replies[ContentUnknown]
}

// URL resolves a POST route against the agent service base URL.
func URL(baseURL string, route RouteConfig) string {
	return strings.TrimRight(baseURL, "/") + route.Endpoint
}
