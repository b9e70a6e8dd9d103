package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3sdk "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultsync/internal/fs"
)

type fakeObject struct {
	data         []byte
	etag         string
	lastModified time.Time
	metadata     map[string]string
	contentType  string
}

// fakeS3 内存中的 S3，只实现适配器需要的那部分语义
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string]*fakeObject
	now       time.Time
	bucketErr error
	headCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string]*fakeObject),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) put(key string, data []byte, meta map[string]string) {
	sum := md5.Sum(data)
	f.objects[key] = &fakeObject{
		data:         data,
		etag:         "\"" + hex.EncodeToString(sum[:]) + "\"",
		lastModified: f.now,
		metadata:     meta,
	}
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3sdk.ListObjectsV2Input, _ ...func(*s3sdk.Options)) (*s3sdk.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if token := aws.ToString(in.ContinuationToken); token != "" {
		start, _ = strconv.Atoi(token)
	}
	limit := int(aws.ToInt32(in.MaxKeys))
	if limit <= 0 {
		limit = 1000
	}
	end := min(start+limit, len(keys))

	out := &s3sdk.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		obj := f.objects[k]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(obj.data))),
			ETag:         aws.String(obj.etag),
			LastModified: aws.Time(obj.lastModified),
		})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3sdk.HeadObjectInput, _ ...func(*s3sdk.Options)) (*s3sdk.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3sdk.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.lastModified),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3sdk.GetObjectInput, _ ...func(*s3sdk.Options)) (*s3sdk.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3sdk.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3sdk.PutObjectInput, _ ...func(*s3sdk.Options)) (*s3sdk.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(aws.ToString(in.Key), data, in.Metadata)
	obj := f.objects[aws.ToString(in.Key)]
	obj.contentType = aws.ToString(in.ContentType)
	return &s3sdk.PutObjectOutput{ETag: aws.String(obj.etag)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3sdk.DeleteObjectInput, _ ...func(*s3sdk.Options)) (*s3sdk.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3sdk.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3sdk.HeadBucketInput, _ ...func(*s3sdk.Options)) (*s3sdk.HeadBucketOutput, error) {
	if f.bucketErr != nil {
		return nil, f.bucketErr
	}
	return &s3sdk.HeadBucketOutput{}, nil
}

func entityMap(entities []fs.Entity) map[string]fs.Entity {
	out := make(map[string]fs.Entity, len(entities))
	for _, e := range entities {
		out[e.Key] = e
	}
	return out
}

func TestAdapter_WalkStripsPrefixAndSynthesizesFolders(t *testing.T) {
	api := newFakeS3()
	api.put("vault/notes/daily/a.md", []byte("hello"), nil)
	api.put("vault/b.md", []byte("hi"), nil)
	api.put("other/c.md", []byte("outside"), nil)

	a := NewAdapter(api, AdapterOptions{Bucket: "notes", Prefix: "/vault"})
	entities, err := a.Walk(context.Background())
	require.NoError(t, err)

	got := entityMap(entities)
	assert.Len(t, got, 4)
	require.Contains(t, got, "notes/")
	require.Contains(t, got, "notes/daily/")
	assert.True(t, got["notes/"].SynthesizedFolder)
	assert.Equal(t, api.now, got["notes/daily/"].ModifiedTimeServer)

	file := got["notes/daily/a.md"]
	assert.Equal(t, int64(5), file.Size)
	assert.NotEmpty(t, file.ContentTag)
	assert.NotContains(t, file.ContentTag, "\"")
	assert.NotContains(t, got, "c.md")
}

func TestAdapter_WalkPaginates(t *testing.T) {
	api := newFakeS3()
	for i := 0; i < 2500; i++ {
		api.put("f"+strconv.Itoa(i)+".md", []byte("x"), nil)
	}
	a := NewAdapter(api, AdapterOptions{Bucket: "notes"})

	entities, err := a.Walk(context.Background())
	require.NoError(t, err)
	assert.Len(t, entities, 2500)
}

func TestAdapter_WriteStoresClientTimesInMetadata(t *testing.T) {
	api := newFakeS3()
	a := NewAdapter(api, AdapterOptions{Bucket: "notes", Prefix: "vault", AccurateMTime: true})
	ctx := context.Background()
	mtime := time.UnixMilli(1_700_000_000_123)
	ctime := time.UnixMilli(1_600_000_000_000)

	written, err := a.Write(ctx, "a.md", []byte("# title\n"), mtime, ctime)
	require.NoError(t, err)
	assert.Equal(t, int64(8), written.Size)
	assert.NotEmpty(t, written.ContentTag)
	assert.Equal(t, "1700000000123", api.objects["vault/a.md"].metadata[metaMTime])
	assert.NotEmpty(t, api.objects["vault/a.md"].contentType)

	entities, err := a.Walk(ctx)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.True(t, mtime.Equal(entities[0].ModifiedTimeClient))
	assert.True(t, ctime.Equal(entities[0].CreatedTimeClient))
	assert.Equal(t, 1, api.headCalls)

	stat, err := a.Stat(ctx, "a.md")
	require.NoError(t, err)
	assert.True(t, mtime.Equal(stat.ModifiedTimeClient))
	assert.Equal(t, written.ContentTag, stat.ContentTag)
}

func TestAdapter_ReadRemoveAndNotFound(t *testing.T) {
	api := newFakeS3()
	api.put("a.md", []byte("content"), nil)
	a := NewAdapter(api, AdapterOptions{Bucket: "notes"})
	ctx := context.Background()

	data, err := a.Read(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	require.NoError(t, a.Remove(ctx, "a.md"))
	_, err = a.Read(ctx, "a.md")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
	_, err = a.Stat(ctx, "a.md")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestAdapter_StatSynthesizedFolder(t *testing.T) {
	api := newFakeS3()
	api.put("dir/a.md", []byte("x"), nil)
	a := NewAdapter(api, AdapterOptions{Bucket: "notes"})

	e, err := a.Stat(context.Background(), "dir/")
	require.NoError(t, err)
	assert.True(t, e.SynthesizedFolder)

	_, err = a.Stat(context.Background(), "empty/")
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestAdapter_MkdirFolderObject(t *testing.T) {
	ctx := context.Background()

	api := newFakeS3()
	a := NewAdapter(api, AdapterOptions{Bucket: "notes"})
	e, err := a.Mkdir(ctx, "dir/", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, e.SynthesizedFolder)
	assert.Empty(t, api.objects)

	api = newFakeS3()
	a = NewAdapter(api, AdapterOptions{Bucket: "notes", Prefix: "p", GenerateFolderObject: true})
	e, err = a.Mkdir(ctx, "dir/", time.Now(), time.Now())
	require.NoError(t, err)
	assert.Contains(t, api.objects, "p/dir/")
	// 目录对象可以被列出，不是合成的
	assert.False(t, e.SynthesizedFolder)
}

func TestAdapter_TestConnection(t *testing.T) {
	api := newFakeS3()
	a := NewAdapter(api, AdapterOptions{Bucket: "notes"})

	ok, err := a.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	api.bucketErr = errors.New("forbidden")
	ok, err = a.TestConnection(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "", normalizeEndpoint(""))
	assert.Equal(t, "https://s3.example.com", normalizeEndpoint("s3.example.com"))
	assert.Equal(t, "http://localhost:9000", normalizeEndpoint("http://localhost:9000"))
}
