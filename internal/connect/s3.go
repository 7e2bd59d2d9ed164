package connect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// objectStore moves database files between S3 and the local cache.
type objectStore struct {
	client *s3.Client
}

func newObjectStore(ctx context.Context, creds *Credentials) (*objectStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if creds != nil && creds.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(creds.Region))
	}
	if creds.Static() {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load object storage config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if creds != nil && creds.Endpoint != "" {
			o.BaseEndpoint = aws.String(creds.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &objectStore{client: client}, nil
}

// Fetch downloads the database object into the cache directory. A
// missing object means a fresh database and is not an error.
func (s *objectStore) Fetch(ctx context.Context, loc Location) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("fetch s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer out.Body.Close()

	f, err := os.Create(loc.DatabasePath())
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, out.Body); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Store uploads the cached database back to its object.
func (s *objectStore) Store(ctx context.Context, loc Location) error {
	f, err := os.Open(loc.DatabasePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("store s3://%s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return nil
}
