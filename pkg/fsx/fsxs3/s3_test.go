package fsxs3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx"
	"github.com/Abraxas-365/jobrelay/pkg/fsx/fsxs3"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memS3 is a single-bucket in-memory S3API.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	failPut error
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.failPut != nil {
		return nil, m.failPut
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	m.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := aws.ToString(in.Prefix)
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	now := time.Now()
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			cp := prefix + rest[:i+1]
			if !seen[cp] {
				seen[cp] = true
				out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(cp)})
			}
			continue
		}
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(m.objects[k]))),
			LastModified: aws.Time(now),
		})
	}
	out.IsTruncated = aws.Bool(false)
	return out, nil
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := newMemS3()
	sfs := fsxs3.NewS3FileSystem(mem, "bucket", "/archive/")

	path := sfs.Join("results", "j1.json")
	require.NoError(t, sfs.WriteFile(ctx, path, []byte(`{"a":1}`)))

	mem.mu.Lock()
	_, stored := mem.objects["archive/results/j1.json"]
	ct := mem.types["archive/results/j1.json"]
	mem.mu.Unlock()
	assert.True(t, stored, "key is prefixed")
	assert.Equal(t, "application/json", ct)

	data, err := sfs.ReadFile(ctx, path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(data))

	ok, err := sfs.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, sfs.WriteFile(ctx, "results/sub/j2.json", []byte(`{}`)))
	infos, err := sfs.List(ctx, "results")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "sub", infos[0].Name)
	assert.True(t, infos[0].IsDir)
	assert.Equal(t, "j1.json", infos[1].Name)
	assert.EqualValues(t, len(`{"a":1}`), infos[1].Size)

	require.NoError(t, sfs.DeleteFile(ctx, path))
	ok, err = sfs.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3MissingAndFailures(t *testing.T) {
	ctx := context.Background()
	mem := newMemS3()
	sfs := fsxs3.NewS3FileSystem(mem, "bucket", "")

	_, err := sfs.ReadFile(ctx, "nope.json")
	assert.True(t, errx.IsCode(err, fsx.ErrNotFound))

	mem.failPut = errors.New("access denied")
	err = sfs.WriteFile(ctx, "x.json", []byte("{}"))
	assert.True(t, errx.IsCode(err, fsx.ErrIO))
}

func TestS3KeysCannotEscapePrefix(t *testing.T) {
	ctx := context.Background()
	mem := newMemS3()
	sfs := fsxs3.NewS3FileSystem(mem, "bucket", "archive")

	require.NoError(t, sfs.WriteFile(ctx, "../../etc/x.json", []byte("{}")))
	mem.mu.Lock()
	defer mem.mu.Unlock()
	_, ok := mem.objects["archive/etc/x.json"]
	assert.True(t, ok)
}
