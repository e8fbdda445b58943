package offer

import (
	"strconv"
	"strings"
)

// Control identifies one of the two time dropdowns of the confirm dialog.
type Control int

const (
	Hour Control = iota
	Minute
)

func (c Control) String() string {
	switch c {
	case Hour:
		return "hour"
	case Minute:
		return "minute"
	default:
		return "control(" + strconv.Itoa(int(c)) + ")"
	}
}

// Option is one rendered <option> of a control.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
}

// text is what the option parses as: its value attribute, or the label when
// the page left the value empty.
func (o Option) text() string {
	if v := strings.TrimSpace(o.Value); v != "" {
		return v
	}
	return strings.TrimSpace(o.Label)
}

// OptionSet holds the enabled numeric options of a control, in page order.
type OptionSet struct {
	Options []Option
	Values  []int
}

// NewOptionSet drops disabled and non-numeric options.
func NewOptionSet(opts []Option) OptionSet {
	var set OptionSet
	for _, o := range opts {
		if o.Disabled {
			continue
		}
		v, ok := parseDigits(o.text())
		if !ok {
			continue
		}
		set.Options = append(set.Options, o)
		set.Values = append(set.Values, v)
	}
	return set
}

// Empty reports whether no option can be selected.
func (s OptionSet) Empty() bool {
	return len(s.Values) == 0
}

// Max returns the first option whose value equals the largest value in the
// set, together with that value. Options such as "05" and "5" parse to the
// same number; the first rendered one wins so the caller selects an option
// that actually exists.
func (s OptionSet) Max() (Option, int, error) {
	if s.Empty() {
		return Option{}, 0, ErrNoEnabledOptions
	}

	best := 0
	for i, v := range s.Values {
		if v > s.Values[best] {
			best = i
		}
	}
	return s.Options[best], s.Values[best], nil
}

// MaxOption is NewOptionSet(opts).Max().
func MaxOption(opts []Option) (Option, int, error) {
	return NewOptionSet(opts).Max()
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
