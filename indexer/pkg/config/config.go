// Package config loads the job file: which datasets are collected and how,
// extra job dependencies, and the validation rules to evaluate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/netstate/indexer/pkg/collector"
	"github.com/malbeclabs/netstate/indexer/pkg/collector/file"
	"github.com/malbeclabs/netstate/indexer/pkg/collector/httpjson"
	"github.com/malbeclabs/netstate/indexer/pkg/dataset"
	"github.com/malbeclabs/netstate/indexer/pkg/resolver"
	"github.com/malbeclabs/netstate/indexer/pkg/validator"
)

type File struct {
	// RefreshInterval is how often the indexer collects in serve mode.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// DefaultDependencies merges Dependencies over the built-in map.
	DefaultDependencies bool `yaml:"default_dependencies"`

	// DefaultValidations appends the built-in rules to Validations.
	DefaultValidations bool `yaml:"default_validations"`

	Jobs         []Job               `yaml:"jobs"`
	Dependencies map[string][]string `yaml:"dependencies"`
	Validations  []validator.Rule    `yaml:"validations"`
}

type Job struct {
	Name     string          `yaml:"name"`
	File     *FileSource     `yaml:"file"`
	HTTPJSON *HTTPJSONSource `yaml:"http_json"`
	Index    *Index          `yaml:"index"`
}

type FileSource struct {
	Path        string `yaml:"path"`
	Format      string `yaml:"format"`
	RecordsPath string `yaml:"records_path"`
}

type HTTPJSONSource struct {
	URLs              []string          `yaml:"urls"`
	Headers           map[string]string `yaml:"headers"`
	RecordsPath       string            `yaml:"records_path"`
	SourceColumn      string            `yaml:"source_column"`
	MaxConcurrency    int               `yaml:"max_concurrency"`
	CallTimeout       time.Duration     `yaml:"call_timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
}

type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

// Load reads and validates the job file at path. Environment variables in
// header values are expanded, so API keys need not be written to the file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid job file %s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	if f.RefreshInterval < 0 {
		return errors.New("refresh interval must not be negative")
	}
	seen := make(map[string]struct{}, len(f.Jobs))
	for i := range f.Jobs {
		job := &f.Jobs[i]
		if err := job.Validate(); err != nil {
			return fmt.Errorf("job %d (%s): %w", i, job.Name, err)
		}
		key := strings.ToLower(job.Name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("job %s is defined twice", job.Name)
		}
		seen[key] = struct{}{}
	}
	for job := range f.Dependencies {
		if err := dataset.ValidateName(job); err != nil {
			return fmt.Errorf("dependencies: %w", err)
		}
	}
	for i := range f.Validations {
		if err := f.Validations[i].Validate(); err != nil {
			return fmt.Errorf("validation %d: %w", i, err)
		}
	}
	return nil
}

func (j *Job) Validate() error {
	if err := dataset.ValidateName(j.Name); err != nil {
		return err
	}
	switch {
	case j.File == nil && j.HTTPJSON == nil:
		return errors.New("one of file or http_json is required")
	case j.File != nil && j.HTTPJSON != nil:
		return errors.New("only one of file or http_json may be set")
	}
	if j.Index != nil {
		if len(j.Index.Columns) == 0 {
			return errors.New("index needs at least one column")
		}
		if j.Index.Name == "" {
			j.Index.Name = "idx_" + j.Name + "_" + strings.Join(j.Index.Columns, "_")
		}
		if err := dataset.ValidateName(j.Index.Name); err != nil {
			return fmt.Errorf("index: %w", err)
		}
	}
	return nil
}

// JobDependencies returns the job dependency map the file asks for.
func (f *File) JobDependencies() resolver.Dependencies {
	deps := resolver.Dependencies(f.Dependencies)
	if f.DefaultDependencies {
		return resolver.DefaultDependencies().Merge(deps)
	}
	return resolver.Dependencies{}.Merge(deps)
}

// Rules returns the validation rules the file asks for.
func (f *File) Rules() []validator.Rule {
	rules := append([]validator.Rule(nil), f.Validations...)
	if f.DefaultValidations {
		rules = append(rules, validator.DefaultRules()...)
	}
	return rules
}

// Indexes returns the index requested per job.
func (f *File) Indexes() map[string]*dataset.Index {
	out := make(map[string]*dataset.Index)
	for _, j := range f.Jobs {
		if j.Index != nil {
			out[j.Name] = &dataset.Index{Name: j.Index.Name, Columns: j.Index.Columns}
		}
	}
	return out
}

// Collectors builds a registry holding one collector per job.
func (f *File) Collectors(log *slog.Logger) (*collector.Registry, error) {
	reg := collector.NewRegistry()
	for _, j := range f.Jobs {
		c, err := j.collector(log)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", j.Name, err)
		}
		if err := reg.Register(j.Name, c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (j *Job) collector(log *slog.Logger) (collector.Collector, error) {
	log = log.With("job", j.Name)
	if j.File != nil {
		return file.New(file.Config{
			Logger:      log,
			Path:        j.File.Path,
			Format:      file.Format(j.File.Format),
			RecordsPath: j.File.RecordsPath,
		})
	}
	headers := make(map[string]string, len(j.HTTPJSON.Headers))
	for k, v := range j.HTTPJSON.Headers {
		headers[k] = os.ExpandEnv(v)
	}
	return httpjson.New(httpjson.Config{
		Logger:            log,
		URLs:              j.HTTPJSON.URLs,
		Headers:           headers,
		RecordsPath:       j.HTTPJSON.RecordsPath,
		SourceColumn:      j.HTTPJSON.SourceColumn,
		MaxConcurrency:    j.HTTPJSON.MaxConcurrency,
		CallTimeout:       j.HTTPJSON.CallTimeout,
		RequestsPerSecond: j.HTTPJSON.RequestsPerSecond,
	})
}
