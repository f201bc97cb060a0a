package crawler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadcrawl/pkg/scheduler"
)

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("r/golang/", "COUNT", 50, "", "", "")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, "golang", task.Subreddit)
	assert.Equal(t, ModeCount, task.Mode)
	assert.Equal(t, BurstEnd, task.BurstMode)
	assert.Equal(t, "new", task.Sort)
	assert.Equal(t, "golang_data.json", task.Out)
	require.Len(t, task.Warnings, 1)
	assert.Contains(t, task.Warnings[0], "defaults to 'end'")
	assert.NoError(t, task.Validate())
}

func TestNormalizeModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		count     int
		burst     string
		wantBurst string
		wantMode  scheduler.Mode
		warnings  int
	}{
		{"full forces sleep", "full", 0, "", BurstSleep, scheduler.Full, 0},
		{"full ignores end", "full", 10, "end", BurstSleep, scheduler.Full, 1},
		{"count end", "count", 10, "end", BurstEnd, scheduler.BurstEnd, 0},
		{"count sleep", "count", 10, "Sleep", BurstSleep, scheduler.BurstSleep, 0},
		{"count bad burst", "count", 10, "later", BurstEnd, scheduler.BurstEnd, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := NewTask("golang", tt.mode, tt.count, tt.burst, "", "")
			assert.Equal(t, tt.wantBurst, task.BurstMode)
			assert.Equal(t, tt.wantMode, task.BudgetMode())
			assert.Len(t, task.Warnings, tt.warnings)
		})
	}

	full := NewTask("golang", "full", 10, "", "", "")
	assert.Zero(t, full.Count)
	assert.Zero(t, full.Target())
	assert.Equal(t, 10, NewTask("golang", "count", 10, "end", "", "").Target())
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    *Task
		wantErr []string
	}{
		{"missing subreddit", NewTask("", "full", 0, "", "out.json", ""), []string{"subreddit is required"}},
		{"missing mode", NewTask("golang", "", 0, "", "", ""), []string{"mode is required"}},
		{"unknown mode", NewTask("golang", "some", 0, "", "", ""), []string{`mode "some"`}},
		{"zero count", NewTask("golang", "count", 0, "end", "", ""), []string{"count must be a positive integer"}},
		{"bad sort", NewTask("golang", "full", 0, "", "", "best"), []string{`invalid sort "best"`}},
		{"bad out", NewTask("golang", "full", 0, "", "a|b.json", ""), []string{"invalid characters"}},
		{"several", NewTask("", "count", -1, "", "x.json", ""), []string{"subreddit is required", "count must be"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestValidateOutputName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"golang_data.json", true},
		{"data 2024.json", true},
		{"", false},
		{"dir/out.json", false},
		{`dir\out.json`, false},
		{"..", false},
		{"what?.json", false},
		{"a<b>.json", false},
		{"tab\tname.json", false},
	}
	for _, tt := range tests {
		err := ValidateOutputName(tt.name)
		if tt.valid && err != nil {
			t.Errorf("ValidateOutputName(%q) unexpected error: %v", tt.name, err)
		}
		if !tt.valid && err == nil {
			t.Errorf("ValidateOutputName(%q) expected an error", tt.name)
		}
	}
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidateOutputDir(dir))
	assert.NoError(t, ValidateOutputDir(filepath.Join(dir, "new")))
	assert.Error(t, ValidateOutputDir(filepath.Join(dir, "missing", "new")))
	assert.Error(t, ValidateOutputDir(""))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	assert.Error(t, ValidateOutputDir(file))
}

func TestParseCommand(t *testing.T) {
	task, err := ParseCommand("--subreddit=golang --mode=count --count=25 --burst_mode=sleep --out=go.json")
	require.NoError(t, err)
	assert.Equal(t, "golang", task.Subreddit)
	assert.Equal(t, "count", task.Mode)
	assert.Equal(t, 25, task.Count)
	assert.Equal(t, "sleep", task.BurstMode)
	assert.Equal(t, "go.json", task.Out)
	assert.Empty(t, task.ID)

	_, err = ParseCommand("--subreddit=golang --colour=blue")
	assert.Error(t, err)
}

func TestParseBatchCommands(t *testing.T) {
	data := []byte(`--subreddit=golang --mode=count --count=10 --burst_mode=end,
  --subreddit=rust --mode=full,
  --subreddit=python --mode=count --count=5,
  --bogus`)

	tasks, err := ParseBatch(data)
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	assert.Equal(t, "golang", tasks[0].Subreddit)
	assert.Equal(t, BurstSleep, tasks[0].BurstMode)
	require.Len(t, tasks[0].Warnings, 1)
	assert.Contains(t, tasks[0].Warnings[0], "batch mode")

	assert.Equal(t, ModeFull, tasks[1].Mode)
	assert.Equal(t, "rust_data.json", tasks[1].Out)

	assert.Equal(t, BurstSleep, tasks[2].BurstMode)
	assert.Empty(t, tasks[2].Warnings)

	assert.Error(t, tasks[3].ParseErr())
	assert.NotEmpty(t, tasks[3].ID)
	for _, task := range tasks[:3] {
		assert.NoError(t, task.ParseErr())
		assert.NoError(t, task.Validate())
	}
}

func TestParseBatchYAML(t *testing.T) {
	data := []byte(`tasks:
  - subreddit: golang
    mode: count
    count: 20
    sort: top
  - subreddit: r/rust
    mode: full
    out: rust.json
`)
	tasks, err := ParseBatch(data)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, 20, tasks[0].Count)
	assert.Equal(t, "top", tasks[0].Sort)
	assert.Equal(t, BurstSleep, tasks[0].BurstMode)
	assert.Equal(t, scheduler.BurstSleep, tasks[0].BudgetMode())

	assert.Equal(t, "rust", tasks[1].Subreddit)
	assert.Equal(t, "rust.json", tasks[1].Out)
	assert.NotEqual(t, tasks[0].ID, tasks[1].ID)
}

func TestParseBatchEmpty(t *testing.T) {
	_, err := ParseBatch([]byte("  ,  , "))
	assert.Error(t, err)

	_, err = ParseBatch([]byte("tasks: []\n"))
	assert.Error(t, err)
}

func TestLoadBatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.txt")
	require.NoError(t, os.WriteFile(path, []byte("--subreddit=golang --mode=full"), 0o644))

	tasks, err := LoadBatchFile(path)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = LoadBatchFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestTaskKeyIsStable(t *testing.T) {
	a := NewTask("golang", "count", 10, "end", "", "")
	b := NewTask("golang", "count", 10, "end", "", "")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Key(0), b.Key(0))
	assert.NotEqual(t, a.Key(0), a.Key(1))
}
