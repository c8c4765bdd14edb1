package httpapi

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"sensorfix/internal/catalog"
	"sensorfix/internal/repair"
)

type openAPIParameter struct {
	Ref      string `yaml:"$ref"`
	Name     string `yaml:"name"`
	In       string `yaml:"in"`
	Required bool   `yaml:"required"`
	Schema   struct {
		Enum   []string `yaml:"enum"`
		Format string   `yaml:"format"`
	} `yaml:"schema"`
}

type openAPIOperation struct {
	Parameters []openAPIParameter `yaml:"parameters"`
}

type openAPIPathItem struct {
	Parameters []openAPIParameter           `yaml:"parameters"`
	Operations map[string]openAPIOperation `yaml:",inline"`
}

type openAPIDoc struct {
	Paths      map[string]openAPIPathItem `yaml:"paths"`
	Components struct {
		Parameters map[string]openAPIParameter `yaml:"parameters"`
	} `yaml:"components"`
}

var pathParamPattern = regexp.MustCompile(`\{([^}]+)\}`)

func loadOpenAPI(t *testing.T) openAPIDoc {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", ".."))
	openAPIPath := filepath.Join(repoRoot, "api", "openapi.yaml")

	b, err := os.ReadFile(openAPIPath)
	if err != nil {
		t.Fatalf("read openapi document %q: %v", openAPIPath, err)
	}
	var doc openAPIDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("parse openapi document %q: %v", openAPIPath, err)
	}
	return doc
}

// resolve follows a #/components/parameters reference.
func (d openAPIDoc) resolve(t *testing.T, p openAPIParameter) openAPIParameter {
	t.Helper()
	if p.Ref == "" {
		return p
	}
	name := strings.TrimPrefix(p.Ref, "#/components/parameters/")
	got, ok := d.Components.Parameters[name]
	if !ok {
		t.Fatalf("unresolved parameter reference %q", p.Ref)
	}
	return got
}

func TestOpenAPIDoesNotDriftFromRouter(t *testing.T) {
	doc := loadOpenAPI(t)
	expected := expectedRoutesFromOpenAPI(doc)
	actual := actualRoutesFromRouter(t)

	missing := diff(expected, actual)
	extra := diff(actual, expected)

	if len(missing) > 0 || len(extra) > 0 {
		var sb strings.Builder
		if len(missing) > 0 {
			sb.WriteString("missing routes (in OpenAPI but not registered in chi router):\n")
			for _, k := range missing {
				sb.WriteString("  - " + k + "\n")
			}
		}
		if len(extra) > 0 {
			sb.WriteString("extra routes (registered in chi router but not present in OpenAPI):\n")
			for _, k := range extra {
				sb.WriteString("  - " + k + "\n")
			}
		}
		t.Fatalf("OpenAPI drift detected. Update api/openapi.yaml or the router.\n\n%s", sb.String())
	}
}

func TestOpenAPIPathParametersAreDeclared(t *testing.T) {
	doc := loadOpenAPI(t)
	for path, item := range doc.Paths {
		var inPath []string
		for _, m := range pathParamPattern.FindAllStringSubmatch(path, -1) {
			inPath = append(inPath, m[1])
		}
		sort.Strings(inPath)

		for method, op := range item.Operations {
			declared := map[string]openAPIParameter{}
			for _, p := range append(append([]openAPIParameter(nil), item.Parameters...), op.Parameters...) {
				p = doc.resolve(t, p)
				if p.In == "path" {
					declared[p.Name] = p
				}
			}
			var names []string
			for name, p := range declared {
				names = append(names, name)
				if !p.Required {
					t.Fatalf("%s %s: path parameter %q must be required", method, path, name)
				}
			}
			sort.Strings(names)
			if strings.Join(names, ",") != strings.Join(inPath, ",") {
				t.Fatalf("%s %s: path has parameters %v but declares %v", method, path, inPath, names)
			}
		}
	}

	if id := doc.Components.Parameters["RunID"]; id.Name != "id" || id.Schema.Format != "uuid" {
		t.Fatalf("expected run ids documented as uuid path parameter, got %+v", id)
	}
}

func TestOpenAPIDefectNamesMatchRegistry(t *testing.T) {
	doc := loadOpenAPI(t)
	param, ok := doc.Components.Parameters["DefectName"]
	if !ok || param.Name != "name" {
		t.Fatalf("expected a DefectName path parameter called name, got %+v", param)
	}

	var registered []string
	for _, d := range repair.Defaults(catalog.Default()) {
		registered = append(registered, d.Name)
	}
	documented := append([]string(nil), param.Schema.Enum...)
	sort.Strings(registered)
	sort.Strings(documented)
	if strings.Join(documented, ",") != strings.Join(registered, ",") {
		t.Fatalf("documented defects %v differ from registered defects %v", documented, registered)
	}
}

func expectedRoutesFromOpenAPI(doc openAPIDoc) map[string]struct{} {
	validMethods := map[string]struct{}{
		"get": {}, "post": {}, "put": {}, "patch": {}, "delete": {}, "head": {}, "options": {},
	}

	out := make(map[string]struct{})
	for p, item := range doc.Paths {
		for m := range item.Operations {
			mLower := strings.ToLower(m)
			if _, ok := validMethods[mLower]; !ok {
				continue
			}
			// Paths are rooted at /v1/... with servers.url=/api.
			out[strings.ToUpper(mLower)+" "+normalizeRoute("/api"+p)] = struct{}{}
		}
	}
	return out
}

func actualRoutesFromRouter(t *testing.T) map[string]struct{} {
	t.Helper()

	h := NewHandler(zerolog.New(io.Discard), nil, Deps{})
	raw := h.Router()

	mux, ok := raw.(*chi.Mux)
	if !ok {
		t.Fatalf("expected *chi.Mux from Handler.Router(), got %T", raw)
	}

	validMethods := map[string]struct{}{
		http.MethodGet: {}, http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {}, http.MethodHead: {}, http.MethodOptions: {},
	}

	out := make(map[string]struct{})
	if err := chi.Walk(mux, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if _, ok := validMethods[method]; !ok {
			return nil
		}
		route = normalizeRoute(route)
		if !strings.HasPrefix(route, "/api/") {
			return nil
		}
		out[method+" "+route] = struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("walk chi router: %v", err)
	}
	return out
}

func normalizeRoute(route string) string {
	if len(route) > 1 {
		route = strings.TrimSuffix(route, "/")
	}
	return route
}

func diff(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for k := range a {
		if _, ok := b[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
