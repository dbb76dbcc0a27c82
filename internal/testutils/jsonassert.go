package testutils

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Presence matches any actual value, including null.
const Presence = "<<PRESENCE>>"

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// JSONAssertOptions tune JSONAsserter comparisons.
type JSONAssertOptions struct {
	// IgnoreExtraKeys drops object keys present only in the actual document.
	IgnoreExtraKeys bool `default:"true"`
	// AllowPresence lets the expected document use Presence for values that
	// only need to exist.
	AllowPresence bool `default:"true"`
	// IgnoreArrayOrder compares arrays as multisets.
	IgnoreArrayOrder bool `default:"false"`
	// IgnoredFields are removed from objects on both sides at any depth.
	IgnoredFields []string
}

// JSONOption configures a JSONAsserter.
type JSONOption func(*JSONAssertOptions)

// WithIgnoreExtraKeys toggles JSONAssertOptions.IgnoreExtraKeys.
func WithIgnoreExtraKeys(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

// WithIgnoreArrayOrder toggles JSONAssertOptions.IgnoreArrayOrder.
func WithIgnoreArrayOrder(ignore bool) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields sets JSONAssertOptions.IgnoredFields.
func WithIgnoredFields(fields ...string) JSONOption {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter reports structural JSON differences as an ASCII diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

// NewJSONAsserter creates an asserter with default options.
func NewJSONAsserter(t TestingT, opts ...JSONOption) *JSONAsserter {
	ja := &JSONAsserter{t: t}
	defaults.SetDefaults(&ja.options)
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert fails the test when actualJSON does not match expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if h, ok := ja.t.(interface{ Helper() }); ok {
		h.Helper()
	}
	if d := ja.Diff(actualJSON, expectedJSON); d != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", d)
		return false
	}
	return true
}

// AssertValue marshals v and compares it with expectedJSON.
func (ja *JSONAsserter) AssertValue(v any, expectedJSON string) bool {
	return ja.Assert(MustJSON(v), expectedJSON)
}

// Diff returns an empty string when both documents match under the
// configured options.
func (ja *JSONAsserter) Diff(actualJSON, expectedJSON string) string {
	var expected, actual any
	if err := json.Unmarshal([]byte(expectedJSON), &expected); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &actual); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only.
	expected = map[string]any{"root": expected}
	actual = map[string]any{"root": actual}

	if len(ja.options.IgnoredFields) > 0 {
		expected = dropFields(expected, ja.options.IgnoredFields)
		actual = dropFields(actual, ja.options.IgnoredFields)
	}
	if ja.options.AllowPresence {
		fillPresence(expected, actual)
	}
	if ja.options.IgnoreArrayOrder {
		expected = sortArrays(expected)
		actual = sortArrays(actual)
	}
	if ja.options.IgnoreExtraKeys {
		actual = project(actual, expected)
	}

	expectedBytes, _ := json.Marshal(expected)
	actualBytes, _ := json.Marshal(actual)

	diff, err := gojsondiff.New().Compare(expectedBytes, actualBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	f := formatter.NewAsciiFormatter(expected, formatter.AsciiFormatterConfig{ShowArrayIndex: true})
	out, err := f.Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

// fillPresence replaces Presence placeholders in expected with the actual
// value at the same path.
func fillPresence(expected, actual any) {
	switch exp := expected.(type) {
	case map[string]any:
		act, _ := actual.(map[string]any)
		for k, v := range exp {
			if s, ok := v.(string); ok && s == Presence {
				if av, found := act[k]; found {
					exp[k] = av
				}
				continue
			}
			fillPresence(v, act[k])
		}
	case []any:
		act, _ := actual.([]any)
		for i := range exp {
			if i >= len(act) {
				return
			}
			if s, ok := exp[i].(string); ok && s == Presence {
				exp[i] = act[i]
				continue
			}
			fillPresence(exp[i], act[i])
		}
	}
}

// project keeps only the object keys of actual that expected also has.
func project(actual, expected any) any {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return actual
		}
		out := make(map[string]any, len(exp))
		for k, v := range act {
			if ev, found := exp[k]; found {
				out[k] = project(v, ev)
			}
		}
		return out
	case []any:
		act, ok := actual.([]any)
		if !ok {
			return actual
		}
		out := make([]any, len(act))
		for i := range act {
			if i < len(exp) {
				out[i] = project(act[i], exp[i])
			} else {
				out[i] = act[i]
			}
		}
		return out
	}
	return actual
}

func dropFields(v any, fields []string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if !slices.Contains(fields, k) {
				out[k] = dropFields(val, fields)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = dropFields(t[i], fields)
		}
		return out
	}
	return v
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k := range t {
			t[k] = sortArrays(t[k])
		}
	case []any:
		for i := range t {
			t[i] = sortArrays(t[i])
		}
		slices.SortStableFunc(t, func(a, b any) int {
			return strings.Compare(MustJSON(a), MustJSON(b))
		})
	}
	return v
}
