// Package seed generates fake orders and submits them to the gateway with a
// valid signature. It is a development tool for exercising the pipeline.
package seed

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Order 는 seed 가 만드는 주문 payload.
// 금액은 json.Number 로 두어 소수 둘째 자리 literal 그대로 직렬화한다.
type Order struct {
	OrderID   string      `json:"orderId"`
	Customer  Customer    `json:"customer"`
	Items     []OrderItem `json:"items"`
	Total     json.Number `json:"total"`
	Currency  string      `json:"currency"`
	CreatedAt string      `json:"createdAt"`
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	City  string `json:"city"`
}

type OrderItem struct {
	SKU   string      `json:"sku"`
	Name  string      `json:"name"`
	Qty   int         `json:"qty"`
	Price json.Number `json:"price"`
}

// Generator 는 fake 주문을 만든다. seed 가 같으면 같은 순서의 값이 나온다 (orderId 제외).
type Generator struct {
	faker *gofakeit.Faker
	now   func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

// Order 는 주문 하나를 만든다.
func (g *Generator) Order() Order {
	f := g.faker

	n := f.Number(1, 4)
	items := make([]OrderItem, 0, n)
	var cents int64
	for i := 0; i < n; i++ {
		qty := f.Number(1, 5)
		priceCents := int64(f.Number(199, 99_999))
		cents += priceCents * int64(qty)
		items = append(items, OrderItem{
			SKU:   fmt.Sprintf("SKU-%05d", f.Number(1, 99_999)),
			Name:  f.Word(),
			Qty:   qty,
			Price: formatCents(priceCents),
		})
	}

	return Order{
		OrderID: uuid.NewString(),
		Customer: Customer{
			Name:  f.Name(),
			Email: f.Email(),
			City:  f.City(),
		},
		Items:     items,
		Total:     formatCents(cents),
		Currency:  "USD",
		CreatedAt: g.now().UTC().Format(time.RFC3339),
	}
}

// Body 는 주문을 gateway 로 보낼 JSON 으로 만든다.
func (g *Generator) Body() (Order, []byte, error) {
	o := g.Order()
	b, err := json.Marshal(o)
	if err != nil {
		return Order{}, nil, fmt.Errorf("encode order: %w", err)
	}
	return o, b, nil
}

func formatCents(c int64) json.Number {
	return json.Number(fmt.Sprintf("%d.%02d", c/100, c%100))
}
