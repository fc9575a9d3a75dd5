package surfside

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/media-etl/internal/source"
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads exports from a bucket. Keys are basePrefix + candidate name.
type S3Store struct {
	api        S3API
	bucket     string
	basePrefix string
}

// NewS3Store creates an S3Store.
func NewS3Store(api S3API, bucket, basePrefix string) *S3Store {
	return &S3Store{api: api, bucket: bucket, basePrefix: basePrefix}
}

// NewS3StoreFromRegion loads the default AWS credential chain.
func NewS3StoreFromRegion(ctx context.Context, region, bucket, basePrefix string) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "surfside: load aws config")
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, basePrefix), nil
}

// FetchFirst lists the keys under the names' common prefix once, then
// downloads the first candidate present.
func (s *S3Store) FetchFirst(ctx context.Context, names []string) (string, []byte, error) {
	if len(names) == 0 {
		return "", nil, eris.Wrap(source.ErrNoData, "surfside: no candidate names")
	}

	keys, err := s.list(ctx, s.basePrefix+commonPrefix(names))
	if err != nil {
		return "", nil, err
	}

	for _, name := range names {
		key := s.basePrefix + name
		if _, ok := keys[key]; !ok {
			continue
		}
		data, err := s.get(ctx, key)
		if err != nil {
			return "", nil, err
		}
		return name, data, nil
	}
	return "", nil, eris.Wrapf(source.ErrNoData, "s3://%s/%s", s.bucket, s.basePrefix+names[0])
}

func (s *S3Store) list(ctx context.Context, prefix string) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, eris.Wrapf(err, "surfside: list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range page.Contents {
			keys[aws.ToString(obj.Key)] = struct{}{}
		}
	}
	return keys, nil
}

func (s *S3Store) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "surfside: get s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "surfside: read s3://%s/%s", s.bucket, key)
	}
	return data, nil
}

// commonPrefix is the longest prefix shared by every name.
func commonPrefix(names []string) string {
	p := names[0]
	for _, n := range names[1:] {
		for !strings.HasPrefix(n, p) {
			p = p[:len(p)-1]
		}
	}
	return p
}
