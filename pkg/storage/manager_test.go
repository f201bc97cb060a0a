package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"threadcrawl/pkg/crawler"
	errs "threadcrawl/pkg/errors"
	"threadcrawl/pkg/logger"
	"threadcrawl/pkg/metadata"
	"threadcrawl/pkg/models"
)

func successResult() *crawler.Result {
	r := &models.Root{
		ID: "r", Name: "t3_r", Subreddit: "golang", Author: "alice",
		Title: "Generics", CreatedAt: time.Unix(1700000000, 0), NumComments: 3, Loaded: true,
	}
	c1 := &models.Comment{ID: "c1", Name: "t1_c1", ParentID: "t3_r", Author: "bob", Body: "finally"}
	c2 := &models.Comment{ID: "c2", Name: "t1_c2", ParentID: "t1_c1", Author: "[deleted]", Body: "[deleted]", Depth: 1}
	more := &models.Placeholder{ID: "m", Name: "t1_m", ParentID: "t3_r", ChildIDs: []string{"c3"}, Count: 1}
	c1.Children = []models.Node{c2}
	r.Children = []models.Node{c1, more}

	ix := models.NewNodeIndex([]*models.Root{r})
	ix.InsertComment(c1)
	ix.InsertComment(c2)

	res := &crawler.Result{Index: ix, Report: metadata.Build(ix)}
	res.TaskID = "task-1"
	res.Subreddit = "golang"
	res.Out = "golang_data.json"
	res.Stage = crawler.StageDone
	res.Success = true
	res.Partial = true
	res.Unresolved = 1
	return res
}

func TestManagerWritesSuccessDocument(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir, WithIndent(true), WithLogger(logger.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	res := successResult()
	if err := manager.Write(context.Background(), res); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := filepath.Join(dir, "golang_data.json")
	if res.OutputPath != want {
		t.Errorf("Expected output path %s, got %s", want, res.OutputPath)
	}

	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if !doc.Summary.Success || !doc.Summary.Partial {
		t.Errorf("Expected a partial success summary, got %+v", doc.Summary)
	}
	if len(doc.Posts) != 1 {
		t.Fatalf("Expected 1 post, got %d", len(doc.Posts))
	}
	post := doc.Posts[0]
	if post.CreatedUTC != 1700000000 || !post.Complete {
		t.Errorf("Unexpected post fields: %+v", post)
	}
	if len(post.Replies) != 2 {
		t.Fatalf("Expected 2 top-level replies, got %d", len(post.Replies))
	}
	if post.Replies[0].Name != "t1_c1" || len(post.Replies[0].Replies) != 1 {
		t.Errorf("Unexpected first reply: %+v", post.Replies[0])
	}
	if nested := post.Replies[0].Replies[0]; nested.Flags == nil || !nested.Flags.DeletedAuthor {
		t.Errorf("Expected deleted author flag on nested reply, got %+v", nested.Flags)
	}
	if p := post.Replies[1]; p.Kind != "placeholder" || len(p.ChildIDs) != 1 {
		t.Errorf("Expected unresolved placeholder, got %+v", p)
	}
	if _, ok := doc.Users["bob"]; !ok {
		t.Error("Expected user stats for bob")
	}

	if _, err := os.Stat(want + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should not exist after write")
	}
	if manager.WrittenCount() != 1 {
		t.Errorf("Expected 1 written file, got %d", manager.WrittenCount())
	}
}

func TestManagerWritesFailedDocument(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(dir, WithLogger(logger.NewNopLogger()))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	res := &crawler.Result{Err: errs.SubjectInvalid("r/secret is private", nil)}
	res.TaskID = "task-2"
	res.Subreddit = "secret"
	res.Stage = crawler.StageValidate
	res.Errors = []string{res.Err.Error()}

	if err := manager.Write(context.Background(), res); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "failed_task-2.json"))
	if err != nil {
		t.Fatalf("Failed to read failure document: %v", err)
	}
	var doc FailedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Failure document is not valid JSON: %v", err)
	}
	if doc.Summary.Stage != crawler.StageValidate {
		t.Errorf("Expected stage validate, got %s", doc.Summary.Stage)
	}
	if doc.ErrorType != string(errs.ErrorTypeSubjectInvalid) {
		t.Errorf("Expected subject_invalid error type, got %s", doc.ErrorType)
	}
}

func TestManagerWritesManifest(t *testing.T) {
	dir := t.TempDir()
	manager, err := NewManager(filepath.Join(dir, "nested", "out"))
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	manifest := &crawler.Manifest{
		BatchID: "01HX",
		Total:   2, Succeeded: 1, Failed: 1,
		Stages: map[crawler.Stage]int{crawler.StageDone: 1, crawler.StageAuth: 1},
	}
	path, err := manager.WriteManifest(manifest)
	if err != nil {
		t.Fatalf("WriteManifest failed: %v", err)
	}
	if filepath.Base(path) != ManifestName {
		t.Errorf("Unexpected manifest path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	var got crawler.Manifest
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Manifest is not valid JSON: %v", err)
	}
	if got.Stages[crawler.StageAuth] != 1 || got.Succeeded != 1 {
		t.Errorf("Unexpected manifest contents: %+v", got)
	}
}

func TestNewManagerFailsOnFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(file); err == nil {
		t.Error("Expected an error when the output directory is a file")
	}
}
