package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archive uploads a session's full ordered activity log to S3 at session
// teardown, as one JSON object per session. It is the evidence trail proctors
// review after the fact; live delivery still goes through BackendSink.
type S3Archive struct {
	client *s3.Client
	bucket string
	region string
}

func NewS3Archive(region string, bucket string) (*S3Archive, error) {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &S3Archive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		region: region,
	}, nil
}

// Flush uploads the given events under
// contests/<contestId>/sessions/<sessionId>/activity.json and returns the
// object URL.
func (a *S3Archive) Flush(ctx context.Context, contestID string, sessionID string, events []Event) (string, error) {
	content, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("failed to marshal activity log: %w", err)
	}

	key := fmt.Sprintf("contests/%s/sessions/%s/activity.json", contestID, sessionID)
	mediaType := "application/json"
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(content),
		ContentType: &mediaType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload activity log: %w", err)
	}

	objectURL := fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
	return objectURL, nil
}
