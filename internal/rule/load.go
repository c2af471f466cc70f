package rule

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/bamsammich/forge/internal/ids"
)

// fileTarget/fileDep/fileRule/fileConfig mirror a TOML rules file. Rule
// authoring itself is external glue (spec.md's "Python glue for rule
// definitions" lives outside the engine); this is the minimal Go-side
// loader cmd/forge's root build command uses in place of that glue, reusing
// internal/config's BurntSushi/toml decode pattern rather than a
// hand-rolled parser.
type fileTarget struct {
	Key     string `toml:"key"`
	Pattern string `toml:"pattern"`
}

type fileDep struct {
	Key     string `toml:"key"`
	Pattern string `toml:"pattern"`
}

type fileRule struct {
	Name     string       `toml:"name"`
	Priority int          `toml:"priority"`
	Cmd      string       `toml:"cmd"`
	Shell    bool         `toml:"shell"`
	Tokens   int64        `toml:"tokens"`
	Backend  string       `toml:"backend"`
	Targets  []fileTarget `toml:"targets"`
	Deps     []fileDep    `toml:"deps"`
}

type fileConfig struct {
	Rules []fileRule `toml:"rule"`
}

// LoadFile parses a rules TOML file into compiled Rules and a populated
// TargetTrie ready for nodeengine's candidate lookup. Rule ids are
// assigned in file order starting at 1 (0 stays reserved as the nil id,
// matching ids.RuleId's other zero-value conventions).
func LoadFile(path string) (map[ids.RuleId]*Rule, *TargetTrie, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, nil, fmt.Errorf("rule: load %s: %w", path, err)
	}

	rules := make(map[ids.RuleId]*Rule, len(fc.Rules))
	trie := NewTargetTrie()

	for i, fr := range fc.Rules {
		if len(fr.Targets) == 0 {
			return nil, nil, fmt.Errorf("rule: load %s: rule %q has no targets", path, fr.Name)
		}
		id := ids.RuleId(i + 1) //nolint:gosec // G115: rule count bounded by file size

		r := &Rule{
			Id:       id,
			Name:     fr.Name,
			Priority: fr.Priority,
			Cmd:      fr.Cmd,
			Shell:    fr.Shell,
			Tokens:   fr.Tokens,
		}
		for _, t := range fr.Targets {
			r.StaticTargets = append(r.StaticTargets, TargetSpec{Key: t.Key, Pattern: t.Pattern})
		}
		for _, d := range fr.Deps {
			r.StaticDeps = append(r.StaticDeps, DepSpec{Key: d.Key, Pattern: d.Pattern})
		}
		r.NStaticTargets = len(r.StaticTargets)
		r.NStaticDeps = len(r.StaticDeps)

		prefix, suffix, infix := splitStemPattern(fr.Targets[0].Pattern)
		r.Prefix, r.Suffix = prefix, suffix
		if err := r.Compile(infix); err != nil {
			return nil, nil, fmt.Errorf("rule: load %s: %w", path, err)
		}

		for ti, t := range fr.Targets {
			p, s, _ := splitStemPattern(t.Pattern)
			trie.Add(p, s, RuleTgt{Rule: id, Target: ti}, r.Priority)
		}

		rules[id] = r
	}

	return rules, trie, nil
}

// splitStemPattern splits a "*"-glob target pattern into its fixed prefix
// and suffix around the first wildcard, and the regex infix that captures
// the stem — a single-wildcard subset of spec.md's stem-substitution
// glob syntax, sufficient for the rule shapes this loader needs to
// support.
func splitStemPattern(pattern string) (prefix, suffix, infixRegex string) {
	i := strings.IndexByte(pattern, '*')
	if i < 0 {
		return pattern, "", ""
	}
	return pattern[:i], pattern[i+1:], "(.*)"
}
