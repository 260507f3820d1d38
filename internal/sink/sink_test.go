package sink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow/internal/clock"
	"orderflow/internal/envelope"
	"orderflow/internal/model"
)

var testNow = time.Date(2024, 3, 9, 7, 30, 0, 0, time.UTC)

func fixedClock(t time.Time) *clock.Monotonic {
	return clock.New(func() time.Time { return t })
}

// --- fakes ---------------------------------------------------------------

type fakeDynamo struct {
	mu    sync.Mutex
	items []*dynamodb.PutItemInput
	err   error
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.items = append(f.items, in)
	return &dynamodb.PutItemOutput{}, nil
}

type fakeS3 struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies map[string][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.bodies == nil {
		f.bodies = make(map[string][]byte)
	}
	b, _ := io.ReadAll(in.Body)
	f.bodies[aws.ToString(in.Key)] = b
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

type memObjects struct {
	keys []string
	body map[string][]byte
}

func (m *memObjects) PutObject(_ context.Context, key string, body []byte) error {
	if m.body == nil {
		m.body = make(map[string][]byte)
	}
	m.keys = append(m.keys, key)
	m.body[key] = body
	return nil
}

// --- attribute conversion -------------------------------------------------

func TestToAttributeValue_PreservesDecimalLiteral(t *testing.T) {
	payload := envelope.Decode([]byte(`{"orderId":"o1","amount":19.99,"lines":[{"price":0.1,"qty":3}],"gift":false,"note":null}`)).Payload

	av, err := toAttributeMap(payload)
	require.NoError(t, err)

	amount, ok := av.Value["amount"].(*ddbtypes.AttributeValueMemberN)
	require.True(t, ok)
	assert.Equal(t, "19.99", amount.Value)

	lines := av.Value["lines"].(*ddbtypes.AttributeValueMemberL)
	line := lines.Value[0].(*ddbtypes.AttributeValueMemberM)
	assert.Equal(t, "0.1", line.Value["price"].(*ddbtypes.AttributeValueMemberN).Value)
	assert.Equal(t, "3", line.Value["qty"].(*ddbtypes.AttributeValueMemberN).Value)

	assert.Equal(t, &ddbtypes.AttributeValueMemberBOOL{Value: false}, av.Value["gift"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberNULL{Value: true}, av.Value["note"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "o1"}, av.Value["orderId"])
}

func TestToAttributeValue_RejectsFloat(t *testing.T) {
	_, err := toAttributeMap(map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "x: unsupported value type float64")
}

// --- keyed store ----------------------------------------------------------

func TestKeyedWriter_DynamoPutItem(t *testing.T) {
	ddb := &fakeDynamo{}
	w := NewKeyedWriter(NewDynamoStore(ddb, "orders", time.Second), "ddb-consumer", fixedClock(testNow))

	err := w.Write(context.Background(), "o1", envelope.Decode([]byte(`{"orderId":"o1","qty":2}`)).Payload)
	require.NoError(t, err)

	require.Len(t, ddb.items, 1)
	in := ddb.items[0]
	assert.Equal(t, "orders", aws.ToString(in.TableName))
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "o1"}, in.Item["orderId"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "ddb-consumer"}, in.Item["source"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "1709969400000"}, in.Item["ts"])

	payload := in.Item["payload"].(*ddbtypes.AttributeValueMemberM)
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "2"}, payload.Value["qty"])
}

func TestKeyedWriter_WrapsStoreError(t *testing.T) {
	cause := errors.New("ProvisionedThroughputExceededException")
	w := NewKeyedWriter(NewDynamoStore(&fakeDynamo{err: cause}, "orders", 0), "ddb-consumer", nil)

	err := w.Write(context.Background(), "o1", model.Payload{"orderId": "o1"})

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, NameStore, we.Sink)
	assert.Equal(t, "o1", we.Identifier)
	assert.ErrorIs(t, err, cause)
}

func TestKeyedWriter_TimestampNonDecreasing(t *testing.T) {
	current := testNow
	c := clock.New(func() time.Time { return current })
	ddb := &fakeDynamo{}
	w := NewKeyedWriter(NewDynamoStore(ddb, "orders", 0), "ddb-consumer", c)

	require.NoError(t, w.Write(context.Background(), "a", model.Payload{}))
	current = testNow.Add(-5 * time.Second)
	require.NoError(t, w.Write(context.Background(), "b", model.Payload{}))

	first := ddb.items[0].Item["ts"].(*ddbtypes.AttributeValueMemberN).Value
	second := ddb.items[1].Item["ts"].(*ddbtypes.AttributeValueMemberN).Value
	assert.Equal(t, first, second)
}

func TestRedisStore_LastWriteWins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "order:")
	w := NewKeyedWriter(store, "ddb-consumer", fixedClock(testNow))
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, "o1", envelope.Decode([]byte(`{"orderId":"o1","amount":19.99}`)).Payload))
	require.NoError(t, w.Write(ctx, "o1", envelope.Decode([]byte(`{"orderId":"o1","amount":21.50}`)).Payload))

	raw, err := mr.Get("order:o1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"orderId":"o1","payload":{"orderId":"o1","amount":21.50},"source":"ddb-consumer","ts":1709969400000}`, raw)
	assert.Contains(t, raw, `"amount":21.50`)
	assert.Len(t, mr.Keys(), 1)
}

func TestRedisStore_PreservesPrecision(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "order:")
	item := model.StoredItem{
		OrderID: "o1",
		Payload: envelope.Decode([]byte(`{"amount":19.99}`)).Payload,
		Source:  "ddb-consumer",
	}
	require.NoError(t, store.PutItem(context.Background(), item))

	raw, err := mr.Get(store.Key("o1"))
	require.NoError(t, err)
	assert.Contains(t, raw, `"amount":19.99`)
	assert.NotContains(t, raw, "19.990000000000002")
}

func TestRedisStore_ErrorWrapped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	w := NewKeyedWriter(NewRedisStore(client, "order:"), "ddb-consumer", nil)
	err := w.Write(context.Background(), "o1", model.Payload{})

	var we *WriteError
	assert.ErrorAs(t, err, &we)
}

// --- archive --------------------------------------------------------------

func TestArchiveKey(t *testing.T) {
	ms := testNow.UnixMilli()

	assert.Equal(t, "orders/2024/03/09/o1/1709969400000.json", ArchiveKey("orders/", "o1", ms))
	assert.Equal(t, "orders/2024/03/09/o1/1709969400000.json", ArchiveKey("orders", "o1", ms))
	assert.Equal(t, "2024/03/09/o1/1709969400000.json", ArchiveKey("", "o1", ms))
	assert.Equal(t, "a/b/2024/03/09/m3/1709969400000.json", ArchiveKey("a/b//", "m3", ms))
}

func TestArchiveWriter_DistinctKeysForSameRecord(t *testing.T) {
	current := testNow
	c := clock.New(func() time.Time { return current })
	objects := &memObjects{}
	w := NewArchiveWriter(objects, "orders/", c)
	payload := model.Payload{"orderId": "o1"}

	require.NoError(t, w.Write(context.Background(), "o1", payload))
	current = testNow.Add(1500 * time.Millisecond)
	require.NoError(t, w.Write(context.Background(), "o1", payload))

	require.Len(t, objects.keys, 2)
	assert.NotEqual(t, objects.keys[0], objects.keys[1])
	assert.Equal(t, "orders/2024/03/09/o1/1709969400000.json", objects.keys[0])
	assert.Equal(t, "orders/2024/03/09/o1/1709969401500.json", objects.keys[1])
}

func TestArchiveWriter_SameMillisecondStillUnique(t *testing.T) {
	objects := &memObjects{}
	w := NewArchiveWriter(objects, "orders/", fixedClock(testNow))

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(context.Background(), "o1", model.Payload{"orderId": "o1"}))
	}

	seen := map[string]bool{}
	for _, k := range objects.keys {
		seen[k] = true
	}
	assert.Len(t, seen, 3)
}

func TestArchiveWriter_BodyIsCompactUTF8(t *testing.T) {
	objects := &memObjects{}
	w := NewArchiveWriter(objects, "orders/", fixedClock(testNow))

	payload := envelope.Decode([]byte(`{ "id" : "é1", "amount" : 19.99, "memo": "<ok> & fine" }`)).Payload
	require.NoError(t, w.Write(context.Background(), "é1", payload))

	body := string(objects.body[objects.keys[0]])
	assert.Equal(t, `{"amount":19.99,"id":"é1","memo":"<ok> & fine"}`, body)
}

func TestArchiveWriter_FallbackIdentifier(t *testing.T) {
	w := NewArchiveWriter(&memObjects{}, "orders/", fixedClock(testNow))
	assert.Equal(t, "1709969400000", w.FallbackIdentifier())
}

func TestS3Store_PutObjectRequest(t *testing.T) {
	tests := []struct {
		name    string
		opts    S3Options
		wantSSE s3types.ServerSideEncryption
		wantKMS string
	}{
		{"sse-s3", S3Options{Bucket: "archive", SSE: "AES256"}, s3types.ServerSideEncryptionAes256, ""},
		{"sse-kms", S3Options{Bucket: "archive", SSE: "aws:kms", KMSKeyID: "key-1"}, s3types.ServerSideEncryptionAwsKms, "key-1"},
		{"disabled", S3Options{Bucket: "archive"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{}
			store := NewS3Store(fake, tt.opts)

			require.NoError(t, store.PutObject(context.Background(), "orders/k.json", []byte(`{"a":1}`)))

			require.Len(t, fake.inputs, 1)
			in := fake.inputs[0]
			assert.Equal(t, "archive", aws.ToString(in.Bucket))
			assert.Equal(t, "orders/k.json", aws.ToString(in.Key))
			assert.Equal(t, "application/json", aws.ToString(in.ContentType))
			assert.Equal(t, int64(7), aws.ToInt64(in.ContentLength))
			assert.Equal(t, tt.wantSSE, in.ServerSideEncryption)
			assert.Equal(t, tt.wantKMS, aws.ToString(in.SSEKMSKeyId))
			assert.Equal(t, `{"a":1}`, string(fake.bodies["orders/k.json"]))
		})
	}
}

func TestArchiveWriter_S3ErrorWrapped(t *testing.T) {
	cause := errors.New("AccessDenied")
	w := NewArchiveWriter(NewS3Store(&fakeS3{err: cause}, S3Options{Bucket: "b"}), "orders/", nil)

	err := w.Write(context.Background(), "o1", model.Payload{})

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, NameArchive, we.Sink)
	assert.ErrorIs(t, err, cause)
}

func TestStoredItemJSON(t *testing.T) {
	item := model.StoredItem{OrderID: "o1", Payload: model.Payload{"qty": json.Number("2")}, Source: "ddb-consumer", ReceivedAtMillis: 5}
	out, err := envelope.Marshal(item)
	require.NoError(t, err)
	assert.Equal(t, `{"orderId":"o1","payload":{"qty":2},"source":"ddb-consumer","ts":5}`, string(out))
}
