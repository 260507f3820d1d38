package bus

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI 는 SNSPublisher 가 쓰는 client 부분집합.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher 는 topic 으로 발행한다. topic 의 SQS 구독들이 consumer 쪽으로 복제한다.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

func NewSNSPublisher(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

// NewSNSClient 는 aws.Config 로 SNS client 를 만든다.
func NewSNSClient(awsCfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

func (p *SNSPublisher) Publish(ctx context.Context, msg Message) (string, error) {
	in := &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(msg.Body)),
	}
	if msg.ClientID != "" {
		in.MessageAttributes = map[string]types.MessageAttributeValue{
			ClientIDAttribute: {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.ClientID),
			},
		}
	}

	out, err := p.client.Publish(ctx, in)
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
