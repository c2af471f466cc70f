package request

import (
	"fmt"
	"strings"

	"github.com/bamsammich/forge/internal/ids"
	"github.com/bamsammich/forge/internal/store"
)

// AuditSummary formats the completion report spec.md §4.6 calls for:
// counts of done/rerun/failed/hit, useful/rerun/elapsed times, sources
// and dir-sources touched, and on failure one diagnostic per unsatisfied
// target. Grounded on cmd/beam/daemon.go's end-of-request
// report (which prints the same shape of counters after a transfer
// batch completes).
func (r *Request) AuditSummary(elapsedNs int64) string {
	st := r.StatsSnapshot()
	var b strings.Builder

	fmt.Fprintf(&b, "done:%d rerun:%d failed:%d hit:%d\n", st.Done, st.Rerun, st.Failed, st.CacheHit)
	fmt.Fprintf(&b, "useful:%s rerun:%s elapsed:%s\n", fmtNs(st.UsefulNs), fmtNs(st.RerunNs), fmtNs(elapsedNs))
	fmt.Fprintf(&b, "sources:%d dir-sources:%d\n", st.Sources, st.DirSources)

	if st.Failed == 0 {
		return b.String()
	}

	for _, node := range r.Targets {
		rec, err := r.Store.GetNode(node)
		if err != nil {
			continue
		}
		if rec.Buildable == store.BuildableYes || rec.Buildable.IsSrcAnti() {
			continue
		}
		b.WriteString(r.diagnose(node))
	}
	return b.String()
}

// diagnose picks one of the three failure explanations spec.md §4.6
// prescribes for an unsatisfied target: a dependency cycle, no matching
// rule, or a failed/dangling dependency chain.
func (r *Request) diagnose(node ids.NodeId) string {
	if path, ok := r.findCycle(node); ok {
		return r.formatCycle(path)
	}
	if rec, err := r.Store.GetNode(node); err == nil && rec.Buildable == store.BuildableNo {
		return r.formatNoRule(node)
	}
	return r.formatDepError(node, 0, maxErrLines)
}

// maxErrLines bounds how deep formatDepError recurses into a chain of
// failed dependencies, matching spec.md §4.6 "max_err_lines".
const maxErrLines = 10

// findCycle runs a DFS over conform job targets starting at node, per
// spec.md §4.6 "DFS over not-done conform jobs until a previously-seen
// node is hit". It returns the path from node to the repeated node,
// inclusive, when a cycle exists.
func (r *Request) findCycle(node ids.NodeId) ([]ids.NodeId, bool) {
	visited := make(map[ids.NodeId]int) // node -> position in path
	var path []ids.NodeId

	var walk func(ids.NodeId) ([]ids.NodeId, bool)
	walk = func(n ids.NodeId) ([]ids.NodeId, bool) {
		if pos, seen := visited[n]; seen {
			return append(append([]ids.NodeId{}, path[pos:]...), n), true
		}
		visited[n] = len(path)
		path = append(path, n)
		defer func() { path = path[:len(path)-1] }()

		rec, err := r.Store.GetNode(n)
		if err != nil || rec.ConformIdx < 0 {
			return nil, false
		}
		jobRec, err := r.Store.GetJob(ids.JobId(rec.ActualJob))
		if err != nil || jobRec.Status == store.JobOk || jobRec.Status == store.JobFrozen {
			return nil, false
		}
		for _, dep := range jobRec.Deps {
			if cyc, ok := walk(dep.Node); ok {
				return cyc, true
			}
		}
		return nil, false
	}
	return walk(node)
}

// formatCycle renders a cycle as the left-margin ASCII diagram spec.md
// §4.6 describes, one arrow per hop.
func (r *Request) formatCycle(path []ids.NodeId) string {
	var b strings.Builder
	b.WriteString("cycle:\n")
	for i, n := range path {
		prefix := "  "
		if i > 0 {
			prefix = "  -> "
		}
		fmt.Fprintf(&b, "%s%s\n", prefix, r.nameOf(n))
	}
	return b.String()
}

// formatNoRule lists every rule whose target pattern matches node's name,
// with the stems it matched (spec.md §4.6 "no-rule" diagnostic). It does
// not explain why a listed rule did not produce the node, and does not
// report anti-rules.
func (r *Request) formatNoRule(node ids.NodeId) string {
	name := r.nameOf(node)
	var b strings.Builder
	fmt.Fprintf(&b, "no rule to make %s:\n", name)
	for _, rl := range r.Rules {
		stems, ok := rl.Match(name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "  candidate %s: matched with stems %v but node was never produced\n", rl.Name, stems)
	}
	return b.String()
}

// formatDepError recurses into failed dependency chains up to
// maxErrLines deep, printing the first stderr line and rule name at each
// level (spec.md §4.6 "recurse into failed jobs bounded by
// max_err_lines").
func (r *Request) formatDepError(node ids.NodeId, depth int, remaining int) string {
	if remaining <= 0 {
		return "  ...\n"
	}
	rec, err := r.Store.GetNode(node)
	if err != nil {
		return fmt.Sprintf("  %s: dangling (no record)\n", r.nameOf(node))
	}
	if rec.ConformIdx < 0 {
		return fmt.Sprintf("  %s: dangling\n", r.nameOf(node))
	}
	jobRec, err := r.Store.GetJob(ids.JobId(rec.ActualJob))
	if err != nil {
		return fmt.Sprintf("  %s: dangling (no job)\n", r.nameOf(node))
	}
	rl := r.Rules[jobRec.RuleId]
	ruleName := "?"
	if rl != nil {
		ruleName = rl.Name
	}

	var b strings.Builder
	indent := strings.Repeat("  ", depth+1)
	fmt.Fprintf(&b, "%s%s (rule %s): %s\n", indent, r.nameOf(node), ruleName, jobRec.Status)

	if jobRec.Status != store.JobErr && jobRec.Status != store.JobErrFrozen {
		return b.String()
	}
	for _, dep := range jobRec.Deps {
		depRec, err := r.Store.GetNode(dep.Node)
		if err != nil || depRec.Buildable == store.BuildableYes {
			continue
		}
		b.WriteString(r.formatDepError(dep.Node, depth+1, remaining-1))
	}
	return b.String()
}

func (r *Request) nameOf(n ids.NodeId) string {
	rec, err := r.Store.GetNode(n)
	if err != nil {
		return fmt.Sprintf("node#%d", n)
	}
	name, err := r.Store.NamePath(rec.NameId)
	if err != nil {
		return fmt.Sprintf("node#%d", n)
	}
	return name
}

func fmtNs(ns int64) string {
	if ns < 1000 {
		return fmt.Sprintf("%dns", ns)
	}
	us := float64(ns) / 1e3
	if us < 1000 {
		return fmt.Sprintf("%.1fus", us)
	}
	ms := us / 1e3
	if ms < 1000 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1e3)
}
