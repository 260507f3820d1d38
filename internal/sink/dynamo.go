package sink

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"orderflow/internal/model"
)

// DynamoAPI 는 DynamoStore 가 쓰는 client 부분집합 (테스트에서 fake 로 대체).
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore
// ------------------------------------------------------------
// StoredItem 을 DynamoDB 테이블에 PutItem 한다 (partition key: orderId).
// at-rest 암호화는 테이블 속성이며 DynamoDB 는 항상 켜져 있다.
// 재시도는 SDK 기본 retryer 에 맡긴다.
type DynamoStore struct {
	client  DynamoAPI
	table   string
	timeout time.Duration
}

// NewDynamoStore 는 table 이름과 호출당 timeout 을 받는다.
func NewDynamoStore(client DynamoAPI, table string, timeout time.Duration) *DynamoStore {
	return &DynamoStore{client: client, table: table, timeout: timeout}
}

// NewDynamoClient 는 aws.Config 로 client 를 만든다.
// endpoint 가 있으면 (DynamoDB Local 등) 그쪽으로 보낸다.
func NewDynamoClient(awsCfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// PutItem 은 같은 orderId 의 기존 item 을 덮어쓴다.
func (s *DynamoStore) PutItem(ctx context.Context, item model.StoredItem) error {
	attrs, err := itemAttributes(item)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      attrs,
	})
	return err
}
