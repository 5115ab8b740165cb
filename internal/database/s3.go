package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"eventpix-backend/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ConnectS3 initializes the S3-compatible client (Cloudflare R2 or MinIO)
func ConnectS3(cfg *config.Config) (*s3.Client, error) {
	ctx := context.Background()

	// Create custom resolver for R2/MinIO endpoint
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:           getEndpointURL(cfg.S3Endpoint, cfg.S3UseSSL),
			SigningRegion: cfg.S3Region,
		}, nil
	})

	// Load AWS config with custom endpoint resolver
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithEndpointResolverWithOptions(customResolver),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey,
			cfg.S3SecretKey,
			"",
		)),
		awsconfig.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Use path-style addressing for R2 and MinIO (required for custom endpoints)
		o.UsePathStyle = true
	})

	endpointURL := getEndpointURL(cfg.S3Endpoint, cfg.S3UseSSL)
	log.Printf("✅ Connected to S3-compatible storage (R2/MinIO)")
	log.Printf("   Endpoint: %s", endpointURL)
	log.Printf("   Region: %s", cfg.S3Region)
	log.Printf("   Buckets - Photos: %s, Quarantine: %s",
		cfg.S3BucketPhotos, cfg.S3BucketQuarantine)

	// Test connection by trying to list buckets (non-blocking, just for verification)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			log.Printf("⚠️  S3 connection test failed: %v", err)
			log.Printf("   This might be normal if buckets don't exist yet or permissions are restricted")
		} else {
			log.Printf("✅ S3 connection verified successfully")
		}
	}()

	return client, nil
}

// getEndpointURL constructs the full endpoint URL
func getEndpointURL(endpoint string, useSSL bool) string {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}

	// If endpoint already includes scheme, return as is
	if len(endpoint) > 7 && (endpoint[:7] == "http://" || endpoint[:8] == "https://") {
		return endpoint
	}

	return fmt.Sprintf("%s://%s", scheme, endpoint)
}

// GeneratePresignedUploadURL generates a pre-signed URL for uploading to R2/S3
func GeneratePresignedUploadURL(ctx context.Context, client *s3.Client, bucket, key string, expiresIn time.Duration) (string, error) {
	if client == nil {
		return "", fmt.Errorf("S3 client is not initialized")
	}

	presignClient := s3.NewPresignClient(client)

	request, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiresIn
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned upload URL: %w", err)
	}

	return request.URL, nil
}

// GeneratePresignedDownloadURL generates a pre-signed URL for downloading from R2/S3
func GeneratePresignedDownloadURL(ctx context.Context, client *s3.Client, bucket, key string, expiresIn time.Duration) (string, error) {
	if client == nil {
		return "", fmt.Errorf("S3 client is not initialized")
	}

	presignClient := s3.NewPresignClient(client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiresIn
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned download URL: %w", err)
	}

	return request.URL, nil
}
