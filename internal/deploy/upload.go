package deploy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// CacheControl marks uploaded objects as long-lived; freshness comes from CDN
// invalidation of the deployment prefix.
const CacheControl = "public, max-age=31536000"

// maxSampleFiles caps UploadResult.SampleFiles.
const maxSampleFiles = 20

// uploadLogEvery is the number of files between upload progress log lines.
const uploadLogEvery = 10

// StoragePutObjectParams describes one object write.
type StoragePutObjectParams struct {
	Key          string    // required
	Body         io.Reader // required
	ContentType  string
	CacheControl string
}

// Storage writes objects to durable object storage. Writing an existing key
// overwrites it.
type Storage interface {
	PutObject(ctx context.Context, params *StoragePutObjectParams) error
}

// Uploader uploads an artifact directory to Storage.
type Uploader struct {
	Storage Storage // required
}

func NewUploader(storage Storage) *Uploader {
	return &Uploader{Storage: storage}
}

type UploaderUploadParams struct {
	Dir    string // required
	Prefix string // required, usually the deployment identifier

	// Progress, if set, is called after every uploaded file.
	Progress func(uploaded, total int)
	// Log, if set, receives a line every uploadLogEvery files.
	Log func(line string)
}

type UploaderUploadResult struct {
	TotalFiles    int
	UploadedFiles int
	SampleFiles   []string // first maxSampleFiles relative paths
}

// Upload puts every file under params.Dir to the key
// "{Prefix}/{relative path}" in walk order. The first failed write aborts the
// upload with ErrUploadFailed; objects already written are left in place.
func (u *Uploader) Upload(ctx context.Context, params *UploaderUploadParams) (*UploaderUploadResult, error) {
	files, err := WalkFiles(params.Dir)
	if err != nil {
		return nil, stageError(ErrUploadFailed, err)
	}
	root, err := filepath.Abs(params.Dir)
	if err != nil {
		return nil, stageError(ErrUploadFailed, err)
	}

	result := &UploaderUploadResult{TotalFiles: len(files)}
	for _, file := range files {
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return result, stageError(ErrUploadFailed, err)
		}
		rel = filepath.ToSlash(rel)
		key := path.Join(params.Prefix, rel)

		if err = u.putFile(ctx, key, file); err != nil {
			return result, stageError(ErrUploadFailed, fmt.Errorf("%s: %w", key, err))
		}

		result.UploadedFiles++
		if len(result.SampleFiles) < maxSampleFiles {
			result.SampleFiles = append(result.SampleFiles, rel)
		}
		if params.Progress != nil {
			params.Progress(result.UploadedFiles, result.TotalFiles)
		}
		if params.Log != nil && result.UploadedFiles%uploadLogEvery == 0 {
			params.Log(fmt.Sprintf("uploaded %d/%d files", result.UploadedFiles, result.TotalFiles))
		}
	}

	return result, nil
}

func (u *Uploader) putFile(ctx context.Context, key, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	return u.Storage.PutObject(ctx, &StoragePutObjectParams{
		Key:          key,
		Body:         f,
		ContentType:  ContentType(name),
		CacheControl: CacheControl,
	})
}
