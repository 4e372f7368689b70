package entity

import (
	"time"
)

// Encoding is the declared text encoding of an exported report file.
type Encoding string

const (
	EncodingUTF8     Encoding = "utf-8"
	EncodingUTF8BOM  Encoding = "utf-8-bom"
	EncodingShiftJIS Encoding = "shift_jis"
)

// Phase groups navigation steps into retrieval states.
type Phase string

const (
	PhaseAuthenticate Phase = "authenticate"
	PhaseNavigate     Phase = "navigate"
	PhaseFilter       Phase = "filter"
	PhaseExport       Phase = "export"
)

// Order returns the position of the phase in the retrieval sequence.
func (p Phase) Order() int {
	switch p {
	case PhaseAuthenticate:
		return 0
	case PhaseNavigate:
		return 1
	case PhaseFilter:
		return 2
	case PhaseExport:
		return 3
	}
	return -1
}

// Action is the kind of interaction a navigation step performs.
type Action string

const (
	ActionNavigate       Action = "navigate"
	ActionFill           Action = "fill"
	ActionClick          Action = "click"
	ActionSelect         Action = "select"
	ActionClickIfPresent Action = "click_if_present"
	ActionWaitSelector   Action = "wait_selector"
	ActionWaitEvent      Action = "wait_event"
	ActionCheckEmpty     Action = "check_empty"
	ActionDownload       Action = "download"
)

// Interactive reports whether the action changes page state and must be
// followed by the settle time.
func (a Action) Interactive() bool {
	switch a {
	case ActionNavigate, ActionFill, ActionClick, ActionSelect, ActionClickIfPresent:
		return true
	}
	return false
}

// Page events a wait_event step can wait for.
const (
	EventNetworkIdle = "network_idle"
	EventLoad        = "load"
)

// Step is one selector/action pair of a source's navigation sequence.
type Step struct {
	Phase    Phase         `yaml:"phase" validate:"required,oneof=authenticate navigate filter export"`
	Action   Action        `yaml:"action" validate:"required,oneof=navigate fill click select click_if_present wait_selector wait_event check_empty download"`
	Selector string        `yaml:"selector"`
	Value    string        `yaml:"value"`
	URL      string        `yaml:"url"`
	Event    string        `yaml:"event" validate:"omitempty,oneof=network_idle load"`
	Text     string        `yaml:"text"`
	Ready    string        `yaml:"ready"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Landmark returns the UI marker a check_empty step looks for.
func (s Step) Landmark() Landmark {
	return Landmark{Selector: s.Selector, Text: s.Text}
}

// Landmark is a UI element and/or text fragment that signals a state.
type Landmark struct {
	Selector string
	Text     string
}

// FieldType is the target type of a mapped column.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInteger  FieldType = "integer"
	FieldDecimal  FieldType = "decimal"
	FieldDate     FieldType = "date"
	FieldDateTime FieldType = "datetime"
)

// FieldMapping maps a native report column to a canonical field.
type FieldMapping struct {
	Column  string    `yaml:"column" validate:"required"`
	Aliases []string  `yaml:"aliases"`
	Field   string    `yaml:"field" validate:"required"`
	Type    FieldType `yaml:"type" validate:"required,oneof=string integer decimal date datetime"`
	Layouts []string  `yaml:"layouts"`
}

// PersistPolicy selects how a source's batch is written.
type PersistPolicy string

const (
	PolicyUpsert              PersistPolicy = "upsert"
	PolicyInsertSkipDuplicate PersistPolicy = "insert_skip_duplicate"
	PolicyInsertAlways        PersistPolicy = "insert_always"
)

// PersistSpec declares the destination table and dedup rules of a source.
type PersistSpec struct {
	Table    string        `yaml:"table" validate:"required"`
	Policy   PersistPolicy `yaml:"policy" validate:"required,oneof=upsert insert_skip_duplicate insert_always"`
	Key      []string      `yaml:"key"`
	Required []string      `yaml:"required"`
}

// RequiredFields returns the natural key followed by any extra required fields.
func (p PersistSpec) RequiredFields() []string {
	out := make([]string, 0, len(p.Key)+len(p.Required))
	seen := make(map[string]bool, len(p.Key)+len(p.Required))
	for _, f := range append(append([]string{}, p.Key...), p.Required...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Source is the static descriptor of one affiliate dashboard. It is
// immutable after the registry has loaded it.
type Source struct {
	ID                string         `yaml:"id" validate:"required"`
	EntryURL          string         `yaml:"entry_url" validate:"required,url"`
	Credentials       string         `yaml:"credentials" validate:"required"`
	Schedule          string         `yaml:"schedule"`
	Encoding          Encoding       `yaml:"encoding" validate:"required,oneof=utf-8 utf-8-bom shift_jis"`
	Delimiter         string         `yaml:"delimiter"`
	Timezone          string         `yaml:"timezone"`
	Settle            time.Duration  `yaml:"settle"`
	NavigationTimeout time.Duration  `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration  `yaml:"action_timeout"`
	DownloadTimeout   time.Duration  `yaml:"download_timeout"`
	Steps             []Step         `yaml:"steps" validate:"required,min=1,dive"`
	Fields            []FieldMapping `yaml:"fields" validate:"required,min=1,dive"`
	Persist           PersistSpec    `yaml:"persist"`

	Location *time.Location `yaml:"-"`
}

// Columns returns the canonical field names in declaration order.
func (s *Source) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Field
	}
	return cols
}

// DelimiterRune returns the field separator of the exported file.
func (s *Source) DelimiterRune() rune {
	switch s.Delimiter {
	case "", ",":
		return ','
	case "\\t", "\t", "tab":
		return '\t'
	}
	return []rune(s.Delimiter)[0]
}

// Zone returns the source timezone, UTC when unset.
func (s *Source) Zone() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}
