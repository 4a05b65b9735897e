package entity

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/crosstx/internal/record"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError reports a payload that does not satisfy its kind's schema.
type ValidationError struct {
	Kind   Kind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Kind == "" {
		return e.Detail
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, e.Detail)
}

// Schemas validates payloads against the embedded CUE definitions.
//
// Thread-safety: CUE values are not safe for concurrent use, so every
// validation holds the Schemas mutex. Validation is CPU-only and short.
type Schemas struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[Kind]cue.Value
}

var (
	defaultSchemas     *Schemas
	defaultSchemasErr  error
	defaultSchemasOnce sync.Once
)

// DefaultSchemas returns the process-wide compiled schema set.
// The schema is embedded, so a compile failure is a build defect and
// is reported on every call.
func DefaultSchemas() (*Schemas, error) {
	defaultSchemasOnce.Do(func() {
		defaultSchemas, defaultSchemasErr = CompileSchemas(schemaCUE)
	})
	return defaultSchemas, defaultSchemasErr
}

// CompileSchemas compiles CUE source that defines one definition per kind.
func CompileSchemas(src string) (*Schemas, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile entity schema: %s", errors.Details(err, nil))
	}

	defs := make(map[Kind]cue.Value, len(Kinds()))
	for _, k := range Kinds() {
		def := root.LookupPath(cue.ParsePath(k.definition()))
		if !def.Exists() {
			return nil, fmt.Errorf("compile entity schema: missing definition %s for kind %s", k.definition(), k)
		}
		defs[k] = def
	}

	return &Schemas{ctx: ctx, defs: defs}, nil
}

// Validate checks obj against the schema for kind.
// Returns *ValidationError when the payload is malformed.
func (s *Schemas) Validate(kind Kind, obj record.Object) error {
	if !kind.Valid() {
		return &ValidationError{Detail: fmt.Sprintf("unknown entity kind %q", kind)}
	}
	if obj == nil {
		return &ValidationError{Kind: kind, Detail: "record is nil"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.Encode(obj.ToGo())
	if err := val.Err(); err != nil {
		return &ValidationError{Kind: kind, Detail: errors.Details(err, nil)}
	}

	unified := s.defs[kind].Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Kind: kind, Detail: formatDetails(err)}
	}
	return nil
}

// Validate checks obj against the default schemas.
func Validate(kind Kind, obj record.Object) error {
	s, err := DefaultSchemas()
	if err != nil {
		return err
	}
	return s.Validate(kind, obj)
}

// formatDetails flattens a CUE error list onto one line.
func formatDetails(err error) string {
	lines := strings.Split(strings.TrimSpace(errors.Details(err, nil)), "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		// Position lines ("./schema.cue:4:2") add noise for callers.
		if l == "" || strings.HasPrefix(l, "./") || strings.HasPrefix(l, "schema.cue:") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "; ")
}
