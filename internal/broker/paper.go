package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rollingk/trader/internal/krx"
)

// Paper is an in-memory broker used by tests and diagnostic cycles. Orders
// always succeed at the quoted price; holdings and quotes are seeded by the
// caller.
type Paper struct {
	mu       sync.Mutex
	quotes   map[string]float64
	holdings map[string]Holding
	cash     float64
	placed   []Order
}

// NewPaper returns an empty paper broker with the given cash balance.
func NewPaper(cash float64) *Paper {
	return &Paper{
		quotes:   make(map[string]float64),
		holdings: make(map[string]Holding),
		cash:     cash,
	}
}

// SetQuote seeds a mark price.
func (p *Paper) SetQuote(code string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[krx.NormalizeCode(code)] = price
}

// SetHolding seeds an account position.
func (p *Paper) SetHolding(h Holding) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h.Code = krx.NormalizeCode(h.Code)
	p.holdings[h.Code] = h
}

// Placed returns every order submitted so far.
func (p *Paper) Placed() []Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Order(nil), p.placed...)
}

// SubmitOrder implements Broker.
func (p *Paper) SubmitOrder(_ context.Context, order Order) (Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order.Code = krx.NormalizeCode(order.Code)
	price := order.LimitPrice
	if price == 0 {
		price = p.quotes[order.Code]
	}
	if price <= 0 {
		return Ack{OK: false, Message: "no_quote"}, nil
	}
	p.placed = append(p.placed, order)
	h := p.holdings[order.Code]
	h.Code = order.Code
	switch order.Side {
	case SideBuy:
		total := h.AvgPrice*float64(h.Qty) + price*float64(order.Qty)
		h.Qty += order.Qty
		h.AvgPrice = total / float64(h.Qty)
		p.cash -= price * float64(order.Qty)
	case SideSell:
		h.Qty -= order.Qty
		if h.Qty < 0 {
			h.Qty = 0
		}
		p.cash += price * float64(order.Qty)
	default:
		return Ack{}, fmt.Errorf("paper broker: bad side %q", order.Side)
	}
	p.holdings[order.Code] = h
	return Ack{OK: true, BrokerOrderID: uuid.NewString(), FillPrice: price}, nil
}

// CheckOrderable implements Broker.
func (p *Paper) CheckOrderable(_ context.Context, order Order) (OrderableCheck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order.Code = krx.NormalizeCode(order.Code)
	price := order.LimitPrice
	if price == 0 {
		price = p.quotes[order.Code]
	}
	if price <= 0 {
		return OrderableCheck{OK: false, Reasons: []string{"no_quote"}}, nil
	}
	if order.Side == SideBuy && p.cash < price*float64(order.Qty) {
		return OrderableCheck{OK: false, Reasons: []string{"insufficient_cash"}, CashPerUnit: price}, nil
	}
	return OrderableCheck{OK: true, MaxQty: int(p.cash / price), CashPerUnit: price}, nil
}

// Holdings implements Broker.
func (p *Paper) Holdings(_ context.Context) ([]Holding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Holding, 0, len(p.holdings))
	for _, h := range p.holdings {
		if h.Qty > 0 {
			out = append(out, h)
		}
	}
	return out, nil
}

// Quote implements Broker.
func (p *Paper) Quote(_ context.Context, code string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.quotes[krx.NormalizeCode(code)]
	if !ok {
		return 0, fmt.Errorf("paper broker: no quote for %s", code)
	}
	return price, nil
}

// Cash implements Broker.
func (p *Paper) Cash(_ context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash, nil
}
