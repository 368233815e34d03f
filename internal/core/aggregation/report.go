package aggregation

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrReportNotFound is returned when a report name is not known to the
// repository.
var ErrReportNotFound = errors.New("report not found")

// Report declares what a report aggregates: ordered group levels and
// named running variables. Reports are loaded at startup from YAML files
// and fingerprinted for staleness detection.
type Report struct {
	Name        string           `yaml:"name"`
	Resource    string           `yaml:"resource"` // record collection the stream reads
	Cumulative  bool             `yaml:"cumulative"`
	Groups      []ReportGroup    `yaml:"groups"`
	Variables   []ReportVariable `yaml:"variables"`
	Fingerprint string           // SHA-256 of the raw YAML file; computed at load time
}

// ReportGroup is one grouping level: a sort order and a group-by
// expression that may traverse relationships (e.g. "addresses.state").
type ReportGroup struct {
	SortOrder  int    `yaml:"sort_order"`
	Expression string `yaml:"expression"`
}

// ReportVariable names one running aggregate over a record field.
type ReportVariable struct {
	Name     string `yaml:"name"`
	Operator string `yaml:"operator"` // count, sum, avg, min, max
	Field    string `yaml:"field"`    // empty for count
}

// ReportRepository defines the interface for loading report definitions.
type ReportRepository interface {
	// Get returns the report with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Report, error)

	// List returns all loaded reports.
	List(ctx context.Context) ([]Report, error)
}

// FileSystemReportRepository loads report definitions from *.yaml files in
// a directory. Each file contains exactly one report at the top level.
// Reports are loaded once at startup and cached in memory — no hot reload.
type FileSystemReportRepository struct {
	dir     string
	reports map[string]Report // keyed by Name
}

// NewFileSystemReportRepository creates a repository and eagerly loads all
// reports from dir. Returns an error if any report file is malformed: a
// bad group expression is rejected here, before any stream starts.
func NewFileSystemReportRepository(dir string) (*FileSystemReportRepository, error) {
	repo := &FileSystemReportRepository{
		dir:     dir,
		reports: make(map[string]Report),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemReportRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no reports directory — valid (zero reports configured)
	}
	if err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("report path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading report dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading report file %s: %w", path, err)
		}

		var report Report
		if err := yaml.Unmarshal(data, &report); err != nil {
			return fmt.Errorf("parsing report file %s: %w", path, err)
		}
		if report.Name == "" {
			continue // skip empty / comment-only files
		}

		if err := validateReport(report); err != nil {
			return fmt.Errorf("report %q: %w", report.Name, err)
		}

		if _, exists := r.reports[report.Name]; exists {
			return fmt.Errorf("report %q: duplicate report name (check multiple YAML files)", report.Name)
		}

		report.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		r.reports[report.Name] = report
	}
	return nil
}

func validateReport(report Report) error {
	if report.Resource == "" {
		return fmt.Errorf("resource must not be empty")
	}
	if len(report.Variables) == 0 {
		return fmt.Errorf("at least one variable is required")
	}
	for _, v := range report.Variables {
		if v.Name == "" {
			return fmt.Errorf("variable name must not be empty")
		}
		if !ValidOperator(v.Operator) {
			return fmt.Errorf("variable %q: unsupported operator %q", v.Name, v.Operator)
		}
		if v.Operator != OpCount && v.Field == "" {
			return fmt.Errorf("variable %q: field is required for operator %q", v.Name, v.Operator)
		}
	}
	for _, g := range report.Groups {
		if _, err := ParseGroupExpression(g.Expression); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the report with the given name, or an error if not found.
func (r *FileSystemReportRepository) Get(_ context.Context, name string) (*Report, error) {
	report, ok := r.reports[name]
	if !ok {
		return nil, fmt.Errorf("report %q: %w", name, ErrReportNotFound)
	}
	return &report, nil
}

// List returns all loaded reports.
func (r *FileSystemReportRepository) List(_ context.Context) ([]Report, error) {
	out := make([]Report, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, report)
	}
	return out, nil
}

// StaticReportRepository serves an already-loaded set of reports. The
// config loader parses and validates report files once; wrapping that
// result avoids reading the directory a second time.
type StaticReportRepository struct {
	reports map[string]Report // keyed by Name
}

// NewStaticReportRepository creates a repository over pre-validated
// reports.
func NewStaticReportRepository(reports []Report) *StaticReportRepository {
	m := make(map[string]Report, len(reports))
	for _, report := range reports {
		m[report.Name] = report
	}
	return &StaticReportRepository{reports: m}
}

// Get returns the report with the given name, or an error if not found.
func (r *StaticReportRepository) Get(_ context.Context, name string) (*Report, error) {
	report, ok := r.reports[name]
	if !ok {
		return nil, fmt.Errorf("report %q: %w", name, ErrReportNotFound)
	}
	return &report, nil
}

// List returns all reports.
func (r *StaticReportRepository) List(_ context.Context) ([]Report, error) {
	out := make([]Report, 0, len(r.reports))
	for _, report := range r.reports {
		out = append(out, report)
	}
	return out, nil
}
