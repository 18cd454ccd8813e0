package resolver

import (
	"fmt"
	"strings"
)

// Strategy names a technique for turning a target description into a query.
type Strategy string

const (
	StrategyID        Strategy = "id"
	StrategyCSS       Strategy = "css"
	StrategyXPath     Strategy = "xpath"
	StrategyText      Strategy = "text"
	StrategyAriaLabel Strategy = "aria-label"
	StrategyName      Strategy = "name"
	StrategyClass     Strategy = "class"
)

// DefaultStrategies is the canonical order used when a caller supplies none.
var DefaultStrategies = []Strategy{
	StrategyID,
	StrategyCSS,
	StrategyName,
	StrategyAriaLabel,
	StrategyClass,
	StrategyXPath,
	StrategyText,
}

// Kind selects which driver primitive executes a translated query.
type Kind int

const (
	KindCSS Kind = iota
	KindXPath
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindXPath:
		return "xpath"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Translator maps a raw target description to a concrete query. It must be
// pure and must not fail.
type Translator func(target string) string

type registryEntry struct {
	translate Translator
	kind      Kind
}

// Registry maps strategies to their translator and locator kind.
type Registry struct {
	entries map[Strategy]registryEntry
}

// NewRegistry returns a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[Strategy]registryEntry)}
	r.Register(StrategyID, KindCSS, func(t string) string { return attrEquals("id", t) })
	r.Register(StrategyCSS, KindCSS, verbatim)
	r.Register(StrategyName, KindCSS, func(t string) string { return attrEquals("name", t) })
	r.Register(StrategyClass, KindCSS, func(t string) string {
		return fmt.Sprintf("[class~=%s]", cssString(t))
	})
	r.Register(StrategyAriaLabel, KindCSS, func(t string) string {
		return attrEquals("aria-label", t) + ", " + attrEquals("aria-labelledby", t)
	})
	r.Register(StrategyXPath, KindXPath, translateXPath)
	r.Register(StrategyText, KindText, verbatim)
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy, kind Kind, translate Translator) {
	r.entries[s] = registryEntry{translate: translate, kind: kind}
}

// Has reports whether the strategy is known.
func (r *Registry) Has(s Strategy) bool {
	_, ok := r.entries[s]
	return ok
}

// Translate returns the concrete query for target under strategy s.
func (r *Registry) Translate(s Strategy, target string) (string, Kind, bool) {
	e, ok := r.entries[s]
	if !ok {
		return "", 0, false
	}
	return e.translate(target), e.kind, true
}

// ParseStrategies validates raw strategy tags against the registry.
func (r *Registry) ParseStrategies(raw []string) ([]Strategy, error) {
	out := make([]Strategy, 0, len(raw))
	for _, tag := range raw {
		s := Strategy(strings.ToLower(strings.TrimSpace(tag)))
		if !r.Has(s) {
			return nil, fmt.Errorf("unknown strategy: %q", tag)
		}
		out = append(out, s)
	}
	return out, nil
}

func verbatim(t string) string { return t }

func attrEquals(attr, value string) string {
	return fmt.Sprintf("[%s=%s]", attr, cssString(value))
}

func translateXPath(t string) string {
	if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "(//") {
		return t
	}
	return fmt.Sprintf("//*[contains(text(), %s)]", xpathLiteral(t))
}

// cssString quotes s as a CSS string token.
func cssString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\a `)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	args := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
