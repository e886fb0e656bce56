// Package schema classifies survey variables into question types from their
// column names and splits display labels into per-item and per-group parts.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// QuestionType is the statistical treatment class of a variable.
type QuestionType string

const (
	SingleChoice  QuestionType = "single_choice"
	MultiResponse QuestionType = "multi_response"
	Ranking       QuestionType = "ranking"
	Grid          QuestionType = "grid"
	OpenText      QuestionType = "open_text"
	NumericOther  QuestionType = "numeric_other"
)

// Options configures classification. Patterns are matched in the order of the
// Matchers table; the first match wins.
type Options struct {
	// Prefixes select eligible columns by name prefix (e.g. "Q").
	Prefixes []string
	// MultiResponse, Ranking, Grid, SingleChoice are regexp strings. An empty
	// string disables that matcher.
	MultiResponse string
	Ranking       string
	Grid          string
	SingleChoice  string
}

// DefaultOptions mirrors the conventional naming scheme: QnCk multi-response
// items, QnMk ranking slots, Qn_k grid sub-items, bare Qn single choice.
func DefaultOptions() Options {
	return Options{
		Prefixes:      []string{"Q"},
		MultiResponse: `C\d+$`,
		Ranking:       `M\d+$`,
		Grid:          `_A?\d+$`,
		SingleChoice:  `^Q\d+[a-zA-Z]?$`,
	}
}

// matcher is one entry of the priority-ordered classification table.
type matcher struct {
	qtype QuestionType
	re    *regexp.Regexp
}

// Question is the classification record for one source column.
type Question struct {
	ID           string
	BaseQuestion string
	Type         QuestionType
	ValueLabels  map[float64]string
	Label        string
	BaseLabel    string
}

// Schema is the full classification result. An empty schema is a valid
// "nothing to tabulate" outcome, not an error.
type Schema struct {
	Questions []Question
	byID      map[string]int
}

// Question resolves a classified column by name.
func (s *Schema) Question(id string) (Question, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Question{}, false
	}
	return s.Questions[i], true
}

// Group is a base-question group: sibling columns sharing one statistical
// treatment (grid sub-items, multi-response options, ranking slots).
type Group struct {
	BaseQuestion string
	Type         QuestionType
	Columns      []string
	ValueLabels  map[float64]string
	BaseLabel    string
}

// Groups returns base-question groups in first-seen column order. The value
// dictionary of the group's first classified column stands for the group.
func (s *Schema) Groups() []Group {
	var out []Group
	idx := make(map[string]int)
	for _, q := range s.Questions {
		key := q.BaseQuestion + "\x00" + string(q.Type)
		i, ok := idx[key]
		if !ok {
			idx[key] = len(out)
			out = append(out, Group{
				BaseQuestion: q.BaseQuestion,
				Type:         q.Type,
				ValueLabels:  q.ValueLabels,
				BaseLabel:    q.BaseLabel,
			})
			i = len(out) - 1
		}
		out[i].Columns = append(out[i].Columns, q.ID)
	}
	return out
}

// Classify inspects every dataset column against the configured prefixes and
// matcher table and produces the schema. Columns with no matching prefix, or
// with an unsupported storage type, are ignored.
func Classify(ds *dataset.Dataset, opt Options) (*Schema, error) {
	matchers, err := buildMatchers(opt)
	if err != nil {
		return nil, err
	}

	s := &Schema{byID: make(map[string]int)}
	for _, name := range ds.Names() {
		if !hasPrefix(name, opt.Prefixes) {
			continue
		}
		col, _ := ds.Column(name)
		meta, _ := ds.Meta(name)

		q := Question{ID: name, ValueLabels: meta.ValueLabels}
		if col.Kind == dataset.String {
			q.Type = OpenText
			q.BaseQuestion = name
		} else {
			q.Type = NumericOther
			q.BaseQuestion = name
			for _, m := range matchers {
				if m.re.MatchString(name) {
					q.Type = m.qtype
					base := m.re.ReplaceAllString(name, "")
					if base == "" {
						// Pattern swallowed the whole name; keep it intact.
						base = name
					}
					q.BaseQuestion = base
					break
				}
			}
		}
		q.Label, q.BaseLabel = splitLabel(meta.Label, q.Type)
		s.byID[q.ID] = len(s.Questions)
		s.Questions = append(s.Questions, q)
	}
	return s, nil
}

func buildMatchers(opt Options) ([]matcher, error) {
	specs := []struct {
		qtype   QuestionType
		pattern string
	}{
		{MultiResponse, opt.MultiResponse},
		{Ranking, opt.Ranking},
		{Grid, opt.Grid},
		{SingleChoice, opt.SingleChoice},
	}
	var out []matcher
	for _, sp := range specs {
		if sp.pattern == "" {
			continue
		}
		re, err := regexp.Compile(sp.pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %s pattern: %w", sp.qtype, err)
		}
		out = append(out, matcher{qtype: sp.qtype, re: re})
	}
	return out, nil
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

var (
	bracketRe = regexp.MustCompile(`^\[([^\]]*)\](.*)$`)
	numberRe  = regexp.MustCompile(`^(.*) \d{1,2} = (.*)$`)
	dashRe    = regexp.MustCompile(`^(.*) - (.*)$`)
)

// splitLabel derives (question label, base-question label) from a display
// label, trying the three labelling conventions in order: a leading bracketed
// tag, an embedded "N = " numbered-option separator (multi/grid only), and an
// embedded " - " separator (grid only). When none applies, both parts are the
// whole label.
func splitLabel(label string, t QuestionType) (question, base string) {
	if m := bracketRe.FindStringSubmatch(label); m != nil {
		return m[1], strings.TrimSpace(m[2])
	}
	if t == MultiResponse || t == Grid {
		if m := numberRe.FindStringSubmatch(label); m != nil {
			return m[2], m[1]
		}
	}
	if t == Grid {
		if m := dashRe.FindStringSubmatch(label); m != nil {
			return m[2], m[1]
		}
	}
	return label, label
}
