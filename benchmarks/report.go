// Package benchmarks parses `go test -bench` output and renders
// performance reports for the kurul packages.
//
// Typical usage:
//
//	go test -bench=. -benchmem ./... > bench.out
//
// then feed bench.out to ParseOutput and render a report with WriteText,
// WriteMarkdown, or WriteJSON.
package benchmarks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Result is a single parsed benchmark line.
type Result struct {
	Name        string  `json:"name"`
	Package     string  `json:"package"`
	Iterations  int     `json:"iterations"`
	NsPerOp     float64 `json:"nsPerOp"`
	BytesPerOp  int64   `json:"bytesPerOp"`
	AllocsPerOp int64   `json:"allocsPerOp"`
}

// OpsPerSec converts the per-operation latency to throughput.
func (r Result) OpsPerSec() float64 {
	if r.NsPerOp <= 0 {
		return 0
	}
	return 1e9 / r.NsPerOp
}

// benchLine matches lines like
//
//	BenchmarkStoreGet-10   12345678   95.31 ns/op   0 B/op   0 allocs/op
//
// The B/op and allocs/op columns appear only with -benchmem.
var benchLine = regexp.MustCompile(`^(Benchmark[\w/.-]+?)(?:-\d+)?\s+(\d+)\s+([\d.]+)\s+ns/op(?:\s+(\d+)\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

// ParseOutput reads `go test -bench` output and returns the parsed
// results. Lines that are not benchmark results are skipped.
func ParseOutput(r io.Reader) ([]Result, error) {
	var results []Result
	currentPkg := ""

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "pkg:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				currentPkg = fields[1]
			}
			continue
		}

		m := benchLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		result := Result{Name: m[1], Package: currentPkg}
		result.Iterations, _ = strconv.Atoi(m[2])
		result.NsPerOp, _ = strconv.ParseFloat(m[3], 64)
		if m[4] != "" {
			result.BytesPerOp, _ = strconv.ParseInt(m[4], 10, 64)
		}
		if m[5] != "" {
			result.AllocsPerOp, _ = strconv.ParseInt(m[5], 10, 64)
		}

		results = append(results, result)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading benchmark output: %w", err)
	}
	return results, nil
}

// Target is a performance budget for one benchmark. Exactly one of
// MaxNsPerOp or MinOpsPerSec is set.
type Target struct {
	Benchmark    string  `json:"benchmark"`
	Description  string  `json:"description"`
	MaxNsPerOp   float64 `json:"maxNsPerOp,omitempty"`
	MinOpsPerSec float64 `json:"minOpsPerSec,omitempty"`
}

// DefaultTargets returns the performance budgets tracked for kurul.
func DefaultTargets() []Target {
	return []Target{
		{
			Benchmark:   "BenchmarkStoreGet",
			Description: "Local point read",
			MaxNsPerOp:  1000, // 1 us
		},
		{
			Benchmark:    "BenchmarkStoreApplyPut",
			Description:  "State machine apply throughput",
			MinOpsPerSec: 500000,
		},
		{
			Benchmark:   "BenchmarkAppendEntriesSerialize",
			Description: "Replication batch encode, 64 entries",
			MaxNsPerOp:  50000, // 50 us
		},
		{
			Benchmark:   "BenchmarkFileStoragePersistEntries",
			Description: "Durable log append",
			MaxNsPerOp:  5e6, // 5 ms, fsync bound
		},
		{
			Benchmark:   "BenchmarkProposeSingleNode",
			Description: "Commit round trip, single node",
			MaxNsPerOp:  1e6, // 1 ms
		},
	}
}

// Check is the outcome of measuring one result against its target.
type Check struct {
	Target Target `json:"target"`
	Result Result `json:"result"`
	Passed bool   `json:"passed"`
}

// Evaluate matches results against targets by benchmark name. Targets
// with no matching result are omitted.
func Evaluate(results []Result, targets []Target) []Check {
	byName := make(map[string]Result, len(results))
	for _, result := range results {
		byName[result.Name] = result
	}

	var checks []Check
	for _, target := range targets {
		result, ok := byName[target.Benchmark]
		if !ok {
			continue
		}

		check := Check{Target: target, Result: result}
		if target.MaxNsPerOp > 0 {
			check.Passed = result.NsPerOp <= target.MaxNsPerOp
		} else {
			check.Passed = result.OpsPerSec() >= target.MinOpsPerSec
		}
		checks = append(checks, check)
	}
	return checks
}

// Report bundles parsed results with run metadata.
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	GoVersion string    `json:"goVersion,omitempty"`
	OS        string    `json:"os,omitempty"`
	Arch      string    `json:"arch,omitempty"`
	Results   []Result  `json:"results"`
	Targets   []Target  `json:"targets"`
}

// NewReport creates a report over the given results with the default
// kurul targets.
func NewReport(results []Result) *Report {
	return &Report{
		Timestamp: time.Now(),
		Results:   results,
		Targets:   DefaultTargets(),
	}
}

// SetSystemInfo records the toolchain and platform of the run.
func (r *Report) SetSystemInfo(goVersion, os, arch string) {
	r.GoVersion = goVersion
	r.OS = os
	r.Arch = arch
}

// byPackage groups results by package, each group sorted by name, and
// returns the sorted package list.
func (r *Report) byPackage() ([]string, map[string][]Result) {
	groups := make(map[string][]Result)
	for _, result := range r.Results {
		pkg := result.Package
		if pkg == "" {
			pkg = "unknown"
		}
		groups[pkg] = append(groups[pkg], result)
	}

	packages := make([]string, 0, len(groups))
	for pkg := range groups {
		packages = append(packages, pkg)
		sort.Slice(groups[pkg], func(i, j int) bool {
			return groups[pkg][i].Name < groups[pkg][j].Name
		})
	}
	sort.Strings(packages)
	return packages, groups
}

// WriteText renders the report as aligned plain text.
func (r *Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "=== Kurul Benchmark Report ===\n\n")
	fmt.Fprintf(w, "Generated: %s\n", r.Timestamp.Format(time.RFC3339))
	if r.GoVersion != "" {
		fmt.Fprintf(w, "Go Version: %s\n", r.GoVersion)
	}
	if r.OS != "" && r.Arch != "" {
		fmt.Fprintf(w, "Platform: %s/%s\n", r.OS, r.Arch)
	}
	fmt.Fprintln(w)

	packages, groups := r.byPackage()
	for _, pkg := range packages {
		fmt.Fprintf(w, "--- %s ---\n\n", pkg)
		fmt.Fprintf(w, "%-40s %12s %12s %10s %10s\n",
			"Benchmark", "Iterations", "ns/op", "B/op", "allocs/op")
		fmt.Fprintln(w, strings.Repeat("-", 88))

		for _, result := range groups[pkg] {
			fmt.Fprintf(w, "%-40s %12d %12.2f %10d %10d\n",
				result.Name, result.Iterations, result.NsPerOp,
				result.BytesPerOp, result.AllocsPerOp)
		}
		fmt.Fprintln(w)
	}

	checks := Evaluate(r.Results, r.Targets)
	if len(checks) == 0 {
		return nil
	}

	fmt.Fprintln(w, "=== Performance Budgets ===")
	fmt.Fprintln(w)

	allPassed := true
	for _, check := range checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
			allPassed = false
		}
		fmt.Fprintf(w, "%-6s %-40s %s (budget %s)\n",
			status, check.Target.Benchmark,
			formatNs(check.Result.NsPerOp), describeBudget(check.Target))
	}

	fmt.Fprintln(w)
	if allPassed {
		fmt.Fprintln(w, "All performance budgets met.")
	} else {
		fmt.Fprintln(w, "WARNING: some performance budgets exceeded.")
	}
	return nil
}

// WriteMarkdown renders the report as Markdown tables.
func (r *Report) WriteMarkdown(w io.Writer) error {
	fmt.Fprintln(w, "# Kurul Benchmark Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Generated: %s\n\n", r.Timestamp.Format(time.RFC3339))

	if r.GoVersion != "" || (r.OS != "" && r.Arch != "") {
		fmt.Fprintln(w, "## System")
		fmt.Fprintln(w)
		if r.GoVersion != "" {
			fmt.Fprintf(w, "- Go Version: %s\n", r.GoVersion)
		}
		if r.OS != "" && r.Arch != "" {
			fmt.Fprintf(w, "- Platform: %s/%s\n", r.OS, r.Arch)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "## Results")
	fmt.Fprintln(w)

	packages, groups := r.byPackage()
	for _, pkg := range packages {
		fmt.Fprintf(w, "### %s\n\n", pkg)
		fmt.Fprintln(w, "| Benchmark | Iterations | ns/op | B/op | allocs/op |")
		fmt.Fprintln(w, "|-----------|------------|-------|------|-----------|")
		for _, result := range groups[pkg] {
			fmt.Fprintf(w, "| %s | %d | %.2f | %d | %d |\n",
				result.Name, result.Iterations, result.NsPerOp,
				result.BytesPerOp, result.AllocsPerOp)
		}
		fmt.Fprintln(w)
	}

	checks := Evaluate(r.Results, r.Targets)
	if len(checks) == 0 {
		return nil
	}

	fmt.Fprintln(w, "## Performance Budgets")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Benchmark | Actual | Budget | Status |")
	fmt.Fprintln(w, "|-----------|--------|--------|--------|")
	for _, check := range checks {
		status := "PASS"
		if !check.Passed {
			status = "**FAIL**"
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			check.Target.Benchmark, formatNs(check.Result.NsPerOp),
			describeBudget(check.Target), status)
	}
	fmt.Fprintln(w)
	return nil
}

// WriteJSON renders the report including budget outcomes as JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	out := struct {
		*Report
		Checks []Check `json:"checks"`
	}{
		Report: r,
		Checks: Evaluate(r.Results, r.Targets),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Save writes the report to a file in the given format.
func (r *Report) Save(filename, format string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	switch format {
	case "text", "txt":
		return r.WriteText(f)
	case "markdown", "md":
		return r.WriteMarkdown(f)
	case "json":
		return r.WriteJSON(f)
	default:
		return fmt.Errorf("unknown report format: %s", format)
	}
}

// Summary returns a short overview of the run.
func (r *Report) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Benchmarks: %d\n", len(r.Results))

	checks := Evaluate(r.Results, r.Targets)
	passed := 0
	for _, check := range checks {
		if check.Passed {
			passed++
		}
	}
	fmt.Fprintf(&sb, "Budgets: %d/%d passed\n", passed, len(checks))
	return sb.String()
}

func describeBudget(t Target) string {
	if t.MaxNsPerOp > 0 {
		return "< " + formatNs(t.MaxNsPerOp)
	}
	return fmt.Sprintf(">= %s ops/s", formatCount(t.MinOpsPerSec))
}

func formatNs(ns float64) string {
	switch {
	case ns < 1000:
		return fmt.Sprintf("%.0f ns", ns)
	case ns < 1e6:
		return fmt.Sprintf("%.2f us", ns/1000)
	case ns < 1e9:
		return fmt.Sprintf("%.2f ms", ns/1e6)
	default:
		return fmt.Sprintf("%.2f s", ns/1e9)
	}
}

func formatCount(n float64) string {
	switch {
	case n >= 1e6:
		return fmt.Sprintf("%.1fM", n/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.1fK", n/1e3)
	default:
		return fmt.Sprintf("%.0f", n)
	}
}
