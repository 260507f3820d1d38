package sink

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	json "github.com/goccy/go-json"

	"orderflow/internal/model"
)

// toAttributeValue 는 디코딩된 JSON 값을 DynamoDB AttributeValue 로 바꾼다.
//
// 숫자는 json.Number 의 원래 literal 을 그대로 N 으로 보낸다.
// float64 를 거치면 19.99 → 19.990000000000002 같은 값이 되어
// DynamoDB 가 정밀도 오류로 거부할 수 있다.
func toAttributeValue(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case json.Number:
		return &types.AttributeValueMemberN{Value: x.String()}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(x)}, nil
	case []any:
		list := make([]types.AttributeValue, 0, len(x))
		for i, e := range x {
			av, err := toAttributeValue(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list = append(list, av)
		}
		return &types.AttributeValueMemberL{Value: list}, nil
	case model.Payload:
		return toAttributeMap(x)
	case map[string]any:
		return toAttributeMap(x)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func toAttributeMap(m map[string]any) (*types.AttributeValueMemberM, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]types.AttributeValue, len(m))
	for _, k := range keys {
		av, err := toAttributeValue(m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = av
	}
	return &types.AttributeValueMemberM{Value: out}, nil
}

// itemAttributes 는 StoredItem 을 PutItem 의 Item 으로 바꾼다.
func itemAttributes(item model.StoredItem) (map[string]types.AttributeValue, error) {
	payload, err := toAttributeMap(item.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload.%w", err)
	}
	return map[string]types.AttributeValue{
		"orderId": &types.AttributeValueMemberS{Value: item.OrderID},
		"payload": payload,
		"source":  &types.AttributeValueMemberS{Value: item.Source},
		"ts":      &types.AttributeValueMemberN{Value: strconv.FormatInt(item.ReceivedAtMillis, 10)},
	}, nil
}
