package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3sdk "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"vaultsync/internal/fs"
)

const (
	// 客户端时间保存在对象元数据里 (毫秒时间戳)
	metaMTime = "mtime"
	metaCTime = "ctime"

	defaultContentType = "application/octet-stream"

	partialWalkKeys = 10
	headConcurrency = 8
)

// AdapterOptions 适配器行为开关
type AdapterOptions struct {
	Bucket string
	// Prefix 所有对象都放在这个前缀下，核心逻辑看不到它
	Prefix string
	// AccurateMTime 扫描时对每个对象做 HeadObject 取回客户端修改时间
	AccurateMTime bool
	// GenerateFolderObject 为目录写入 "key/" 空对象
	GenerateFolderObject bool
}

// Adapter 实现了 fs.FileSystem 接口
type Adapter struct {
	api  S3API
	opts AdapterOptions
}

// NewAdapter 创建适配器实例
func NewAdapter(api S3API, opts AdapterOptions) *Adapter {
	opts.Prefix = normalizePrefix(opts.Prefix)
	return &Adapter{api: api, opts: opts}
}

// normalizePrefix "/vault" -> "vault/"，空前缀保持为空
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// Root 返回 bucket 与前缀
func (a *Adapter) Root() string {
	return fmt.Sprintf("s3://%s/%s", a.opts.Bucket, a.opts.Prefix)
}

func (a *Adapter) toObjectKey(key string) string {
	return a.opts.Prefix + key
}

func (a *Adapter) toKey(objectKey string) string {
	return strings.TrimPrefix(objectKey, a.opts.Prefix)
}

// Walk 分页列出前缀下的全部对象，并为没有目录对象的路径合成文件夹
func (a *Adapter) Walk(ctx context.Context) ([]fs.Entity, error) {
	entities := make(map[string]fs.Entity)

	paginator := s3sdk.NewListObjectsV2Paginator(a.api, &s3sdk.ListObjectsV2Input{
		Bucket: aws.String(a.opts.Bucket),
		Prefix: aws.String(a.opts.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range page.Contents {
			entity, ok := a.objectToEntity(obj)
			if !ok {
				continue
			}
			entities[entity.Key] = entity
		}
	}

	if a.opts.AccurateMTime {
		if err := a.fillClientTimes(ctx, entities); err != nil {
			return nil, err
		}
	}

	synthesizeFolders(entities)

	out := make([]fs.Entity, 0, len(entities))
	for _, e := range entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// WalkPartial 只取一页少量对象，用于连通性探测
func (a *Adapter) WalkPartial(ctx context.Context) ([]fs.Entity, error) {
	resp, err := a.api.ListObjectsV2(ctx, &s3sdk.ListObjectsV2Input{
		Bucket:  aws.String(a.opts.Bucket),
		Prefix:  aws.String(a.opts.Prefix),
		MaxKeys: aws.Int32(partialWalkKeys),
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	var out []fs.Entity
	for _, obj := range resp.Contents {
		if entity, ok := a.objectToEntity(obj); ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

func (a *Adapter) objectToEntity(obj types.Object) (fs.Entity, bool) {
	key := a.toKey(aws.ToString(obj.Key))
	if key == "" {
		return fs.Entity{}, false
	}
	lastModified := aws.ToTime(obj.LastModified)
	if fs.IsFolderKey(key) {
		return fs.Entity{
			Key:                key,
			ModifiedTimeClient: lastModified,
			ModifiedTimeServer: lastModified,
		}, true
	}
	return fs.Entity{
		Key:                key,
		Size:               aws.ToInt64(obj.Size),
		ModifiedTimeClient: lastModified,
		ModifiedTimeServer: lastModified,
		ContentTag:         cleanETag(obj.ETag),
	}, true
}

// fillClientTimes 并发 HeadObject，用元数据里的客户端时间覆盖 LastModified
func (a *Adapter) fillClientTimes(ctx context.Context, entities map[string]fs.Entity) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headConcurrency)

	var keys []string
	for key, e := range entities {
		if !e.IsFolder() {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		g.Go(func() error {
			head, err := a.api.HeadObject(gctx, &s3sdk.HeadObjectInput{
				Bucket: aws.String(a.opts.Bucket),
				Key:    aws.String(a.toObjectKey(key)),
			})
			if err != nil {
				return fmt.Errorf("head object %s: %w", key, err)
			}
			mtime, ctime := clientTimes(head.Metadata)

			mu.Lock()
			defer mu.Unlock()
			updated := entities[key]
			if !mtime.IsZero() {
				updated.ModifiedTimeClient = mtime
			}
			updated.CreatedTimeClient = ctime
			entities[key] = updated
			return nil
		})
	}
	return g.Wait()
}

// synthesizeFolders 对象存储没有原生目录，为每个文件的祖先路径补一个文件夹实体
// 文件夹时间取其下最新的子项
func synthesizeFolders(entities map[string]fs.Entity) {
	listed := make([]fs.Entity, 0, len(entities))
	for _, e := range entities {
		listed = append(listed, e)
	}
	for _, e := range listed {
		for _, dir := range fs.DirectoryLevels(e.Key) {
			folder, exists := entities[dir]
			if !exists {
				folder = fs.Entity{Key: dir, SynthesizedFolder: true}
			}
			if folder.SynthesizedFolder && e.ModTime().After(folder.ModifiedTimeServer) {
				folder.ModifiedTimeClient = e.ModTime()
				folder.ModifiedTimeServer = e.ModTime()
			}
			entities[dir] = folder
		}
	}
}

// Stat 获取单个对象信息；目录在没有目录对象时按前缀是否有内容判断
func (a *Adapter) Stat(ctx context.Context, key string) (fs.Entity, error) {
	head, err := a.api.HeadObject(ctx, &s3sdk.HeadObjectInput{
		Bucket: aws.String(a.opts.Bucket),
		Key:    aws.String(a.toObjectKey(key)),
	})
	if err == nil {
		return a.headToEntity(key, head), nil
	}
	if !isNotFound(err) {
		return fs.Entity{}, fmt.Errorf("head object %s: %w", key, err)
	}
	if !fs.IsFolderKey(key) {
		return fs.Entity{}, fmt.Errorf("%w: %s", fs.ErrNotExist, key)
	}

	resp, err := a.api.ListObjectsV2(ctx, &s3sdk.ListObjectsV2Input{
		Bucket:  aws.String(a.opts.Bucket),
		Prefix:  aws.String(a.toObjectKey(key)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fs.Entity{}, fmt.Errorf("list objects %s: %w", key, err)
	}
	if len(resp.Contents) == 0 {
		return fs.Entity{}, fmt.Errorf("%w: %s", fs.ErrNotExist, key)
	}
	lastModified := aws.ToTime(resp.Contents[0].LastModified)
	return fs.Entity{
		Key:                key,
		ModifiedTimeClient: lastModified,
		ModifiedTimeServer: lastModified,
		SynthesizedFolder:  true,
	}, nil
}

func (a *Adapter) headToEntity(key string, head *s3sdk.HeadObjectOutput) fs.Entity {
	lastModified := aws.ToTime(head.LastModified)
	mtime, ctime := clientTimes(head.Metadata)
	if mtime.IsZero() {
		mtime = lastModified
	}
	e := fs.Entity{
		Key:                key,
		ModifiedTimeClient: mtime,
		ModifiedTimeServer: lastModified,
		CreatedTimeClient:  ctime,
	}
	if !fs.IsFolderKey(key) {
		e.Size = aws.ToInt64(head.ContentLength)
		e.ContentTag = cleanETag(head.ETag)
	}
	return e
}

// Mkdir 仅在开启 GenerateFolderObject 时写入目录对象，否则返回合成的文件夹
func (a *Adapter) Mkdir(ctx context.Context, key string, mtime, ctime time.Time) (fs.Entity, error) {
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if !a.opts.GenerateFolderObject {
		return fs.Entity{Key: key, ModifiedTimeClient: mtime, SynthesizedFolder: true}, nil
	}

	_, err := a.api.PutObject(ctx, &s3sdk.PutObjectInput{
		Bucket:        aws.String(a.opts.Bucket),
		Key:           aws.String(a.toObjectKey(key)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
		Metadata:      timeMetadata(mtime, ctime),
	})
	if err != nil {
		return fs.Entity{}, fmt.Errorf("put folder object %s: %w", key, err)
	}
	return fs.Entity{
		Key:                key,
		ModifiedTimeClient: mtime,
		ModifiedTimeServer: time.Now().UTC(),
	}, nil
}

// Write 上传对象，客户端时间写入元数据
func (a *Adapter) Write(ctx context.Context, key string, data []byte, mtime, ctime time.Time) (fs.Entity, error) {
	resp, err := a.api.PutObject(ctx, &s3sdk.PutObjectInput{
		Bucket:        aws.String(a.opts.Bucket),
		Key:           aws.String(a.toObjectKey(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(data)),
		Metadata:      timeMetadata(mtime, ctime),
	})
	if err != nil {
		return fs.Entity{}, fmt.Errorf("put object %s: %w", key, err)
	}

	// s3.PutObjectOutput 没有 LastModified
	return fs.Entity{
		Key:                key,
		Size:               int64(len(data)),
		CreatedTimeClient:  ctime,
		ModifiedTimeClient: mtime,
		ModifiedTimeServer: time.Now().UTC(),
		ContentTag:         cleanETag(resp.ETag),
	}, nil
}

// Read 下载整个对象
func (a *Adapter) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.api.GetObject(ctx, &s3sdk.GetObjectInput{
		Bucket: aws.String(a.opts.Bucket),
		Key:    aws.String(a.toObjectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", fs.ErrNotExist, key)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return data, nil
}

// Remove 删除对象；合成目录没有实体对象，删除不存在的 key 在 S3 上是幂等的
func (a *Adapter) Remove(ctx context.Context, key string) error {
	_, err := a.api.DeleteObject(ctx, &s3sdk.DeleteObjectInput{
		Bucket: aws.String(a.opts.Bucket),
		Key:    aws.String(a.toObjectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// TestConnection 通过 HeadBucket 检查 bucket 是否可访问
func (a *Adapter) TestConnection(ctx context.Context) (bool, error) {
	_, err := a.api.HeadBucket(ctx, &s3sdk.HeadBucketInput{Bucket: aws.String(a.opts.Bucket)})
	if err != nil {
		slog.Debug("S3 connection test failed", "bucket", a.opts.Bucket, "err", err)
		return false, fmt.Errorf("head bucket %s: %w", a.opts.Bucket, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func cleanETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

func detectContentType(data []byte) string {
	if len(data) == 0 {
		return defaultContentType
	}
	return mimetype.Detect(data).String()
}

func timeMetadata(mtime, ctime time.Time) map[string]string {
	meta := make(map[string]string, 2)
	if !mtime.IsZero() {
		meta[metaMTime] = strconv.FormatInt(mtime.UnixMilli(), 10)
	}
	if !ctime.IsZero() {
		meta[metaCTime] = strconv.FormatInt(ctime.UnixMilli(), 10)
	}
	return meta
}

func clientTimes(meta map[string]string) (mtime, ctime time.Time) {
	return parseMillis(meta[metaMTime]), parseMillis(meta[metaCTime])
}

func parseMillis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
