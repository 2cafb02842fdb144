package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSTransport delivers notifications through an AWS SNS topic, typically
// fanned out to SMS or email subscriptions.
type SNSTransport struct {
	svc      *sns.Client
	topicArn string
}

// NewSNSTransport creates an SNS-backed transport.
func NewSNSTransport(ctx context.Context, region, topicArn string) (*SNSTransport, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &SNSTransport{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func (t *SNSTransport) Name() string { return "sns" }

func (t *SNSTransport) Send(ctx context.Context, msg Message) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(t.topicArn),
		Subject:  aws.String(msg.Title),
		Message:  aws.String(msg.Body),
	}
	if _, err := t.svc.Publish(ctx, input); err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}
