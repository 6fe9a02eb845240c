package storagesvc

import (
	"context"
	"io"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/trezcool/hatua/core"
)

// s3ObjectStore stores uploads in an S3 bucket fronted by a public base URL
// (the bucket website endpoint or a CDN).
type s3ObjectStore struct {
	client *s3.Client
	conf   core.ObjectStoreConfig
}

var _ core.ObjectStore = (*s3ObjectStore)(nil) // interface compliance check

func NewS3ObjectStore(ctx context.Context, conf core.ObjectStoreConfig) (*s3ObjectStore, error) {
	awsConf, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(conf.Region))
	if err != nil {
		return nil, errors.Wrap(err, "loading AWS config")
	}
	return &s3ObjectStore{
		client: s3.NewFromConfig(awsConf),
		conf:   conf,
	}, nil
}

func (store *s3ObjectStore) Upload(ctx context.Context, path string, content io.Reader, contentType string) (string, error) {
	_, err := store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &store.conf.Bucket,
		Key:         &path,
		Body:        content,
		ContentType: &contentType,
	})
	if err != nil {
		return "", errors.Wrap(err, "putting object")
	}
	return store.PublicURL(path), nil
}

func (store *s3ObjectStore) PublicURL(path string) string {
	return strings.TrimSuffix(store.conf.PublicURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
