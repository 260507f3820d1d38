// internal/sink/s3.go
package sink

import (
	"bytes"
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API 는 S3Store 가 쓰는 client 부분집합 (테스트에서 fake 로 대체).
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options 는 archive 버킷 설정.
type S3Options struct {
	Bucket  string
	Timeout time.Duration // PutObject 호출당 timeout

	// SSE: "AES256"(SSE-S3, 기본) / "aws:kms" / "" (요청하지 않음)
	SSE      string
	KMSKeyID string
}

// S3Store
// ------------------------------------------------------------
// archive object 를 S3 에 PutObject 한다.
//   - Content-Type: application/json
//   - 서버측 암호화 요청 (설정값)
//   - 각 호출은 컨텍스트 기반 timeout 을 가진다
//
// 재시도는 SDK retryer 에 맡기고 여기서는 1회 호출만 담당한다.
// 실패한 record 는 batch failure report 를 통해 upstream 이 재전달한다.
type S3Store struct {
	client S3API
	opts   S3Options
}

// NewS3Store 는 client 와 버킷 옵션으로 S3Store 를 만든다.
func NewS3Store(client S3API, opts S3Options) *S3Store {
	return &S3Store{client: client, opts: opts}
}

// NewS3Client 는 aws.Config 로 S3 client 를 만든다.
// endpoint 가 있으면 (MinIO / LocalStack) path-style 로 접근한다.
func NewS3Client(awsCfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// PutObject 는 key 에 body 를 저장한다.
func (s *S3Store) PutObject(ctx context.Context, key string, body []byte) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	_, err := s.client.PutObject(ctx, s.putInput(key, body))
	return err
}

func (s *S3Store) putInput(key string, body []byte) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	}

	switch types.ServerSideEncryption(s.opts.SSE) {
	case types.ServerSideEncryptionAes256:
		in.ServerSideEncryption = types.ServerSideEncryptionAes256
	case types.ServerSideEncryptionAwsKms:
		in.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		if s.opts.KMSKeyID != "" {
			in.SSEKMSKeyId = aws.String(s.opts.KMSKeyID)
		}
	}
	return in
}
