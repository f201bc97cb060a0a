package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"threadcrawl/pkg/reddit"
	"threadcrawl/pkg/scheduler"
)

// Crawl modes.
const (
	ModeFull  = "full"
	ModeCount = "count"
)

// Burst modes of count crawls.
const (
	BurstEnd   = "end"
	BurstSleep = "sleep"
)

// invalidPathChars are rejected in output names on every platform.
const invalidPathChars = "<>:\"|?*"

// Task is one crawl request.
type Task struct {
	ID        string `json:"id" yaml:"-"`
	Subreddit string `json:"subreddit" yaml:"subreddit"`
	Mode      string `json:"mode" yaml:"mode"`
	Count     int    `json:"count,omitempty" yaml:"count"`
	BurstMode string `json:"burst_mode,omitempty" yaml:"burst_mode"`
	Out       string `json:"out" yaml:"out"`
	Sort      string `json:"sort,omitempty" yaml:"sort"`

	// Warnings are problems that were corrected with a default.
	Warnings []string `json:"warnings,omitempty" yaml:"-"`

	// parseErr is set for batch entries that could not be parsed; such a
	// task fails at the parse stage.
	parseErr error
}

// NewTask creates a task with a fresh id and fills in defaults.
func NewTask(subreddit, mode string, count int, burstMode, out, sort string) *Task {
	t := &Task{
		Subreddit: subreddit,
		Mode:      mode,
		Count:     count,
		BurstMode: burstMode,
		Out:       out,
		Sort:      sort,
	}
	t.Normalize()
	return t
}

// Normalize assigns an id and fills defaults, recording a warning for each
// corrected field.
func (t *Task) Normalize() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Subreddit = reddit.SanitizeSubreddit(t.Subreddit)
	t.Mode = strings.ToLower(strings.TrimSpace(t.Mode))
	t.BurstMode = strings.ToLower(strings.TrimSpace(t.BurstMode))
	if t.Sort == "" {
		t.Sort = "new"
	}
	if t.Out == "" && t.Subreddit != "" {
		t.Out = t.Subreddit + "_data.json"
	}

	switch t.Mode {
	case ModeFull:
		if t.BurstMode != "" && t.BurstMode != BurstSleep {
			t.warn("burst mode is ignored in full mode, which always waits for quota")
		}
		t.BurstMode = BurstSleep
		t.Count = 0
	case ModeCount:
		switch t.BurstMode {
		case BurstEnd, BurstSleep:
		case "":
			t.warn("no burst mode given, count mode defaults to 'end'")
			t.BurstMode = BurstEnd
		default:
			t.warn(fmt.Sprintf("burst mode %q is not 'end' or 'sleep', using 'end'", t.BurstMode))
			t.BurstMode = BurstEnd
		}
	}
}

func (t *Task) warn(msg string) {
	t.Warnings = append(t.Warnings, msg)
}

// Validate reports every problem that makes the task impossible to run.
// The subreddit name itself is checked when the task runs, so that a bad
// name is reported as an invalid subject.
func (t *Task) Validate() error {
	var errs []error

	if t.Subreddit == "" {
		errs = append(errs, errors.New("subreddit is required"))
	}
	switch t.Mode {
	case ModeFull:
	case ModeCount:
		if t.Count <= 0 {
			errs = append(errs, errors.New("count must be a positive integer in count mode"))
		}
	case "":
		errs = append(errs, errors.New("mode is required"))
	default:
		errs = append(errs, fmt.Errorf("mode %q is not 'full' or 'count'", t.Mode))
	}
	if !reddit.IsValidSort(t.Sort) {
		errs = append(errs, fmt.Errorf("invalid sort %q (valid: %s)", t.Sort, strings.Join(reddit.Sorts, ", ")))
	}
	if err := ValidateOutputName(t.Out); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ValidateOutputName rejects empty names, names containing path
// separators and names with characters invalid on common filesystems.
func ValidateOutputName(name string) error {
	if name == "" {
		return errors.New("output name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("output name %q must be a file name, not a path", name)
	}
	if strings.ContainsAny(name, invalidPathChars) {
		return fmt.Errorf("output name %q contains invalid characters", name)
	}
	for _, r := range name {
		if r < 0x20 {
			return fmt.Errorf("output name %q contains control characters", name)
		}
	}
	return nil
}

// ValidateOutputDir checks that dir can be created: it must not be an
// existing file, and its parent must exist.
func ValidateOutputDir(dir string) error {
	if dir == "" {
		return errors.New("output directory is required")
	}
	if strings.ContainsAny(filepath.Base(dir), invalidPathChars) {
		return fmt.Errorf("output directory %q contains invalid characters", dir)
	}
	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("output directory %q exists but is a file", dir)
		}
		return nil
	}
	parent := filepath.Dir(filepath.Clean(dir))
	info, err := os.Stat(parent)
	if err != nil {
		return fmt.Errorf("parent of output directory %q does not exist", dir)
	}
	if !info.IsDir() {
		return fmt.Errorf("parent of output directory %q is not a directory", dir)
	}
	return nil
}

// BudgetMode maps the crawl and burst modes to a scheduler mode.
func (t *Task) BudgetMode() scheduler.Mode {
	switch {
	case t.Mode == ModeFull:
		return scheduler.Full
	case t.BurstMode == BurstSleep:
		return scheduler.BurstSleep
	default:
		return scheduler.BurstEnd
	}
}

// Target returns the number of roots to collect, 0 for all.
func (t *Task) Target() int {
	if t.Mode == ModeFull {
		return 0
	}
	return t.Count
}

// NewFlagSet returns the flag set describing one task. Flag names accept
// underscores in place of dashes.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("subreddit", "", "subreddit to crawl")
	fs.String("mode", "", "crawl mode: full or count")
	fs.Int("count", 0, "number of posts to collect in count mode")
	fs.String("burst-mode", "", "what to do when the quota runs out in count mode: end or sleep")
	fs.String("out", "", "output file name")
	fs.String("sort", "new", "listing sort: new, hot, top or rising")
	fs.SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	return fs
}

// TaskFromFlags builds a task from a parsed flag set created by
// NewFlagSet. The task is not normalized.
func TaskFromFlags(fs *pflag.FlagSet) (*Task, error) {
	subreddit, err := fs.GetString("subreddit")
	if err != nil {
		return nil, err
	}
	mode, _ := fs.GetString("mode")
	count, _ := fs.GetInt("count")
	burst, _ := fs.GetString("burst-mode")
	out, _ := fs.GetString("out")
	sort, _ := fs.GetString("sort")
	return &Task{
		Subreddit: subreddit,
		Mode:      mode,
		Count:     count,
		BurstMode: burst,
		Out:       out,
		Sort:      sort,
	}, nil
}

// ParseCommand parses one command string such as
// "--subreddit=golang --mode=count --count=50". The task is not
// normalized.
func ParseCommand(command string) (*Task, error) {
	fs := NewFlagSet("task")
	fs.SetOutput(&bytes.Buffer{})
	if err := fs.Parse(strings.Fields(command)); err != nil {
		return nil, fmt.Errorf("parse task %q: %w", command, err)
	}
	return TaskFromFlags(fs)
}

// batchDocument is the YAML form of a batch file.
type batchDocument struct {
	Tasks []*Task `yaml:"tasks"`
}

// ParseBatch parses a batch file. YAML documents carry a tasks list;
// anything else is read as comma-separated command strings. A command that
// cannot be parsed becomes a task that fails at the parse stage. Batch
// tasks always sleep through quota exhaustion.
func ParseBatch(data []byte) ([]*Task, error) {
	var tasks []*Task

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("tasks:")) || bytes.HasPrefix(trimmed, []byte("---")) {
		var doc batchDocument
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse batch yaml: %w", err)
		}
		tasks = doc.Tasks
	} else {
		for _, command := range strings.Split(string(data), ",") {
			command = strings.TrimSpace(command)
			if command == "" {
				continue
			}
			t, err := ParseCommand(command)
			if err != nil {
				t = &Task{parseErr: err}
			}
			tasks = append(tasks, t)
		}
	}

	if len(tasks) == 0 {
		return nil, errors.New("batch file contains no tasks")
	}
	for _, t := range tasks {
		if t == nil {
			return nil, errors.New("batch file contains an empty task")
		}
		if strings.EqualFold(strings.TrimSpace(t.Mode), ModeCount) {
			if b := strings.ToLower(strings.TrimSpace(t.BurstMode)); b != "" && b != BurstSleep {
				t.warn("burst mode is ignored in batch mode, which always waits for quota")
			}
			t.BurstMode = BurstSleep
		}
		t.Normalize()
	}
	return tasks, nil
}

// ParseErr returns the error of a batch entry that could not be parsed.
func (t *Task) ParseErr() error {
	return t.parseErr
}

// Key identifies the task at position i of a batch across runs of the
// same batch file.
func (t *Task) Key(i int) string {
	return fmt.Sprintf("%d:%s:%s:%d:%s", i, t.Subreddit, t.Mode, t.Count, t.Out)
}

// LoadBatchFile reads and parses a batch file.
func LoadBatchFile(path string) ([]*Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return ParseBatch(data)
}
