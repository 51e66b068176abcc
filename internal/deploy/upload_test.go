package deploy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestUploaderUpload(t *testing.T) {
	t.Run("uploads files with keys and metadata", func(t *testing.T) {
		ctx := context.Background()
		dir := newTree(t, map[string]string{
			"index.html":        "<h1>hi</h1>",
			"assets/app.js":     "console.log(1)",
			"assets/style.CSS":  "body{}",
			"assets/img/a.webp": "RIFF",
		})
		storage := &FakeStorage{}

		var progress [][2]int
		got, err := NewUploader(storage).Upload(ctx, &UploaderUploadParams{
			Dir:    dir,
			Prefix: "dep-1",
			Progress: func(uploaded, total int) {
				progress = append(progress, [2]int{uploaded, total})
			},
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		wantKeys := []string{"dep-1/index.html", "dep-1/assets/app.js", "dep-1/assets/style.CSS", "dep-1/assets/img/a.webp"}
		if !reflect.DeepEqual(storage.Keys, wantKeys) {
			t.Fatalf("got keys %v, want %v", storage.Keys, wantKeys)
		}
		if obj := storage.Objects["dep-1/index.html"]; obj.Body != "<h1>hi</h1>" || obj.ContentType != "text/html" || obj.CacheControl != CacheControl {
			t.Fatalf("got %+v for index.html", obj)
		}
		if obj := storage.Objects["dep-1/assets/style.CSS"]; obj.ContentType != "text/css" {
			t.Fatalf("got content type %q for style.CSS", obj.ContentType)
		}

		want := &UploaderUploadResult{
			TotalFiles:    4,
			UploadedFiles: 4,
			SampleFiles:   []string{"index.html", "assets/app.js", "assets/style.CSS", "assets/img/a.webp"},
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %+v, want %+v", got, want)
		}
		if wantProgress := [][2]int{{1, 4}, {2, 4}, {3, 4}, {4, 4}}; !reflect.DeepEqual(progress, wantProgress) {
			t.Fatalf("got progress %v, want %v", progress, wantProgress)
		}
	})

	t.Run("logs periodically and caps samples", func(t *testing.T) {
		ctx := context.Background()
		files := make(map[string]string)
		for i := range 25 {
			files[fmt.Sprintf("f%02d.txt", i)] = "x"
		}
		dir := newTree(t, files)

		var logs []string
		got, err := NewUploader(&FakeStorage{}).Upload(ctx, &UploaderUploadParams{
			Dir:    dir,
			Prefix: "dep-2",
			Log:    func(line string) { logs = append(logs, line) },
		})
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if len(got.SampleFiles) != maxSampleFiles {
			t.Fatalf("got %d samples, want %d", len(got.SampleFiles), maxSampleFiles)
		}
		if want := []string{"uploaded 10/25 files", "uploaded 20/25 files"}; !reflect.DeepEqual(logs, want) {
			t.Fatalf("got logs %v, want %v", logs, want)
		}
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		ctx := context.Background()
		dir := newTree(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})
		storage := &FakeStorage{FailKey: "dep-3/b.txt"}

		got, err := NewUploader(storage).Upload(ctx, &UploaderUploadParams{Dir: dir, Prefix: "dep-3"})
		if !errors.Is(err, ErrUploadFailed) {
			t.Fatalf("got %v, want %v", err, ErrUploadFailed)
		}
		if got.UploadedFiles != 1 {
			t.Fatalf("got %d uploaded files, want 1", got.UploadedFiles)
		}
		if want := []string{"dep-3/a.txt"}; !reflect.DeepEqual(storage.Keys, want) {
			t.Fatalf("got keys %v, want %v", storage.Keys, want)
		}
	})
}
