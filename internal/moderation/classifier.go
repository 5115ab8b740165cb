package moderation

import (
	"context"
	"fmt"
	"log"

	"eventpix-backend/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rektypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// ImageRef is an opaque locator the classifier can resolve. For the S3-backed
// deployment that is a bucket and object key.
type ImageRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

func (r ImageRef) String() string {
	return r.Bucket + "/" + r.Key
}

// Classifier is the external label-detection boundary. minConfidence is a
// fraction in [0,1]; implementations own the conversion to whatever scale
// their provider speaks (Rekognition wants percent).
type Classifier interface {
	DetectLabels(ctx context.Context, ref ImageRef, minConfidence float64) ([]Label, error)
}

// RekognitionClassifier detects moderation labels with AWS Rekognition.
type RekognitionClassifier struct {
	client *rekognition.Client
}

// NewRekognitionClassifier builds the Rekognition-backed classifier. Returns
// nil (not an error) when no region is configured: moderation then runs in
// degraded fail-open mode rather than blocking uploads.
func NewRekognitionClassifier(cfg *config.Config) (*RekognitionClassifier, error) {
	if cfg.RekognitionRegion == "" {
		log.Printf("⚠️  Rekognition not configured, moderation runs in degraded mode")
		return nil, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.RekognitionRegion),
	}
	if cfg.RekognitionAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.RekognitionAccessKey, cfg.RekognitionSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Rekognition: %w", err)
	}

	log.Printf("✅ Rekognition classifier ready (region=%s)", cfg.RekognitionRegion)
	return &RekognitionClassifier{client: rekognition.NewFromConfig(awsCfg)}, nil
}

// DetectLabels calls DetectModerationLabels against the photo's S3 object.
// Rekognition reports confidences on a 0-100 scale; results are converted
// back to fractions.
func (c *RekognitionClassifier) DetectLabels(ctx context.Context, ref ImageRef, minConfidence float64) ([]Label, error) {
	out, err := c.client.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image: &rektypes.Image{
			S3Object: &rektypes.S3Object{
				Bucket: aws.String(ref.Bucket),
				Name:   aws.String(ref.Key),
			},
		},
		MinConfidence: aws.Float32(float32(minConfidence * 100)),
	})
	if err != nil {
		return nil, fmt.Errorf("detect moderation labels: %w", err)
	}

	labels := make([]Label, 0, len(out.ModerationLabels))
	for _, ml := range out.ModerationLabels {
		labels = append(labels, Label{
			Name:       aws.ToString(ml.Name),
			Confidence: float64(aws.ToFloat32(ml.Confidence)) / 100,
		})
	}
	return labels, nil
}
