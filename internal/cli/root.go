// Package cli wires configuration, logging and the pipeline components into
// the orderflow command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"orderflow/internal/config"
	"orderflow/internal/logger"
)

// lambdaRuntimeEnv 는 Lambda 런타임이 항상 설정하는 변수.
const lambdaRuntimeEnv = "AWS_LAMBDA_RUNTIME_API"

// options 는 모든 하위 명령이 공유하는 persistent flag 값.
type options struct {
	lambda bool
}

// NewRootCommand 는 orderflow 명령 트리를 만든다.
//
//	orderflow gateway            : POST /orders → bus
//	orderflow consume store      : bus → DynamoDB | Redis
//	orderflow consume archive    : bus → S3
//	orderflow seed               : fake 주문을 gateway 로 전송
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "orderflow",
		Short: "Order ingestion pipeline",
		Long: `orderflow accepts signed orders over HTTP, publishes them to a message bus
and fans them out to a keyed order store and an object archive.

Each subcommand runs as a long-lived server or, with --lambda, as an AWS Lambda
handler (ALB target for the gateway, SQS subscriber for the consumers).
Configuration comes from environment variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&opts.lambda, "lambda", os.Getenv(lambdaRuntimeEnv) != "",
		"run as an AWS Lambda handler (default: true when "+lambdaRuntimeEnv+" is set)")

	root.AddCommand(
		newGatewayCommand(opts),
		newConsumeCommand(opts),
		newSeedCommand(),
	)
	return root
}

// Execute 는 main 에서 호출한다.
func Execute() error {
	return NewRootCommand().Execute()
}

// setup
//
// 모든 하위 명령의 공통 시작 절차.
//  1. 환경 변수에서 Config 로드
//  2. 역할별 필수값 검사 (fail-fast)
//  3. 전역 zerolog 로거 초기화
func setup(role config.Role, lambda bool) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(role, lambda); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", role, err)
	}
	logger.Init(cfg, string(role), os.Stdout)
	return cfg, nil
}
