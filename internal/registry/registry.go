// Package registry loads and validates the static source descriptors.
package registry

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/user/affiliate-ingest/internal/entity"
	"github.com/user/affiliate-ingest/internal/repository"
)

var (
	sourceIDRegex   = regexp.MustCompile(`^[a-z0-9_-]+$`)
	identifierRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

type document struct {
	Sources []*entity.Source `yaml:"sources"`
}

// Registry holds the loaded descriptors in file order. It is read-only
// after Load.
type Registry struct {
	sources []*entity.Source
	byID    map[string]*entity.Source
}

var _ repository.SourceRegistry = (*Registry)(nil)

// Load reads and validates the descriptor file at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML descriptor document. Every problem found is
// reported, not only the first.
func Parse(data []byte) (*Registry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, errors.New("no sources declared")
	}

	validate := validator.New()
	r := &Registry{byID: make(map[string]*entity.Source, len(doc.Sources))}
	var errs []error
	for i, src := range doc.Sources {
		if src == nil {
			errs = append(errs, fmt.Errorf("sources[%d]: empty entry", i))
			continue
		}
		if err := validate.Struct(src); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", src.ID, err))
			continue
		}
		if err := check(src); err != nil {
			errs = append(errs, fmt.Errorf("source %q: %w", src.ID, err))
			continue
		}
		if _, dup := r.byID[src.ID]; dup {
			errs = append(errs, fmt.Errorf("source %q: duplicate id", src.ID))
			continue
		}
		r.byID[src.ID] = src
		r.sources = append(r.sources, src)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// check enforces the rules struct tags cannot express and resolves the
// timezone.
func check(src *entity.Source) error {
	var errs []error
	if !sourceIDRegex.MatchString(src.ID) {
		errs = append(errs, fmt.Errorf("id must match %s", sourceIDRegex))
	}

	src.Location = time.UTC
	if src.Timezone != "" {
		loc, err := time.LoadLocation(src.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone: %w", err))
		} else {
			src.Location = loc
		}
	}
	if d := src.Delimiter; d != "" && d != "\\t" && d != "tab" && utf8.RuneCountInString(d) != 1 {
		errs = append(errs, fmt.Errorf("delimiter %q must be a single character", d))
	}
	for _, d := range []time.Duration{src.Settle, src.NavigationTimeout, src.ActionTimeout, src.DownloadTimeout} {
		if d < 0 {
			errs = append(errs, errors.New("durations must not be negative"))
			break
		}
	}

	errs = append(errs, checkSteps(src.Steps)...)
	errs = append(errs, checkFields(src)...)
	return errors.Join(errs...)
}

func checkSteps(steps []entity.Step) []error {
	var errs []error
	downloads, checkEmpty := 0, -1
	prev := entity.PhaseAuthenticate
	for i, st := range steps {
		at := func(format string, args ...any) {
			errs = append(errs, fmt.Errorf("steps[%d] (%s): %s", i, st.Action, fmt.Sprintf(format, args...)))
		}
		if st.Phase.Order() < prev.Order() {
			at("phase %s after %s", st.Phase, prev)
		}
		prev = st.Phase
		if st.Timeout < 0 {
			at("timeout must not be negative")
		}

		switch st.Action {
		case entity.ActionNavigate:
			if st.URL == "" {
				at("url is required")
			}
		case entity.ActionFill, entity.ActionSelect:
			if st.Selector == "" {
				at("selector is required")
			}
		case entity.ActionClick, entity.ActionClickIfPresent, entity.ActionWaitSelector:
			if st.Selector == "" {
				at("selector is required")
			}
		case entity.ActionWaitEvent:
			if st.Event == "" {
				at("event is required")
			}
		case entity.ActionCheckEmpty:
			if st.Selector == "" && st.Text == "" {
				at("an empty landmark (selector or text) is required")
			}
			if st.Ready == "" {
				at("ready selector is required")
			}
			checkEmpty = i
		case entity.ActionDownload:
			if st.Selector == "" {
				at("selector is required")
			}
			downloads++
			if i != len(steps)-1 {
				at("download must be the last step")
			}
		}
	}
	if downloads != 1 {
		errs = append(errs, fmt.Errorf("exactly one download step is required, found %d", downloads))
	}
	if checkEmpty == -1 {
		errs = append(errs, errors.New("a check_empty step is required before download"))
	}
	return errs
}

func checkFields(src *entity.Source) []error {
	var errs []error
	mapped := make(map[string]bool, len(src.Fields))
	for i, f := range src.Fields {
		if !identifierRegex.MatchString(f.Field) {
			errs = append(errs, fmt.Errorf("fields[%d]: field %q must match %s", i, f.Field, identifierRegex))
		}
		if mapped[f.Field] {
			errs = append(errs, fmt.Errorf("fields[%d]: duplicate field %q", i, f.Field))
		}
		mapped[f.Field] = true
	}

	p := src.Persist
	if p.Table == "" {
		errs = append(errs, errors.New("persist.table is required"))
	} else if !identifierRegex.MatchString(p.Table) {
		errs = append(errs, fmt.Errorf("persist.table %q must match %s", p.Table, identifierRegex))
	}
	switch p.Policy {
	case entity.PolicyUpsert:
		if len(p.Key) == 0 {
			errs = append(errs, errors.New("persist.key is required for upsert"))
		}
	case entity.PolicyInsertSkipDuplicate, entity.PolicyInsertAlways:
	default:
		errs = append(errs, fmt.Errorf("persist.policy %q is not one of upsert, insert_skip_duplicate, insert_always", p.Policy))
	}
	for _, f := range p.RequiredFields() {
		if !mapped[f] {
			errs = append(errs, fmt.Errorf("persist field %q is not a mapped field", f))
		}
	}
	return errs
}

// Get returns the descriptor for id.
func (r *Registry) Get(id string) (*entity.Source, bool) {
	src, ok := r.byID[id]
	return src, ok
}

// All returns the descriptors in file order.
func (r *Registry) All() []*entity.Source {
	return append([]*entity.Source(nil), r.sources...)
}

// IDs returns the source ids in file order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID
	}
	return ids
}
