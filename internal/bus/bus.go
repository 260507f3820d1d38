// Package bus publishes ingress messages and, for self-hosted deployments,
// delivers them to consumers in batches.
package bus

import "context"

// Message 는 gateway 가 발행하는 메시지.
type Message struct {
	Body     []byte // 원문 또는 compact JSON
	ClientID string // X-Client-Id (message attribute / header 로 전달)
}

// Publisher 는 fan-out 버스로 메시지를 발행한다.
// 반환값은 버스가 부여한 message id.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}

// ClientIDAttribute 는 client id 를 실어 보내는 attribute/header 이름.
const ClientIDAttribute = "clientId"
