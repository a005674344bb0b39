// Package blob finds and opens named report files in Google Cloud Storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// File describes a stored object.
type File struct {
	Name    string
	Size    int64
	Updated time.Time
}

// BaseName is the object name without its prefix directories.
func (f File) BaseName() string {
	return path.Base(f.Name)
}

// Store searches and opens files by name.
type Store interface {
	Search(ctx context.Context, query string) ([]File, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string, logger *zap.Logger) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// Search lists every object under the prefix and returns those whose name
// contains all words of query, newest first. An empty query matches all.
func (s *GCSStore) Search(ctx context.Context, query string) ([]File, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})

	var files []File
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects in %s: %w", s.bucket, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		files = append(files, File{Name: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}

	matched := Match(files, query)
	s.logger.Debug("Searched blob store",
		zap.String("query", query),
		zap.Int("listed", len(files)),
		zap.Int("matched", len(matched)))
	return matched, nil
}

func (s *GCSStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return r, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Match filters files by case-insensitive name words and sorts newest first.
func Match(files []File, query string) []File {
	words := strings.Fields(strings.ToLower(query))

	var out []File
	for _, f := range files {
		name := strings.ToLower(f.BaseName())
		ok := true
		for _, w := range words {
			if !strings.Contains(name, w) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, f)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Updated.After(out[j].Updated)
	})
	return out
}
