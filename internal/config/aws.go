package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
)

// AWS 는 SDK 공통 설정(자격 증명 체인, 리전)을 로드한다.
// 재시도는 SDK 기본값을 그대로 쓴다. endpoint override 는 client 별로 건다.
func (c Config) AWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsCfgLib.LoadOptions) error
	if c.AWSRegion != "" {
		opts = append(opts, awsCfgLib.WithRegion(c.AWSRegion))
	}

	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}
