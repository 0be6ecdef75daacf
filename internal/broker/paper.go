package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// PaperBroker simulates execution against quoted prices. Orders fill
// immediately and in full at the last quote for the symbol. Used for dry runs
// and as the default broker when no venue credentials are configured.
type PaperBroker struct {
	mu         sync.Mutex
	log        *logger.Logger
	cash       float64
	positions  map[string]*types.Position
	quotes     map[string]float64
	executions []OrderExecution
	now        func() time.Time
}

func NewPaperBroker(initialCash float64, log *logger.Logger) *PaperBroker {
	return &PaperBroker{
		log:       log,
		cash:      initialCash,
		positions: make(map[string]*types.Position),
		quotes:    make(map[string]float64),
		now:       time.Now,
	}
}

// SetQuote updates the fill price for a symbol. The engine calls this each
// cycle so paper fills track the latest snapshot.
func (p *PaperBroker) SetQuote(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[symbol] = price

	if pos, ok := p.positions[symbol]; ok {
		pos.CurrentPrice = price
		pos.MarketValue = pos.Qty * price
		if pos.AvgEntryPrice > 0 {
			pos.UnrealizedPnLPercent = (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
		}
	}
}

func (p *PaperBroker) PlaceOrder(_ context.Context, order types.Order) (OrderExecution, error) {
	if err := order.Validate(); err != nil {
		return OrderExecution{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.quotes[order.Symbol]
	if !ok || price <= 0 {
		return OrderExecution{}, errors.Newf(errors.ErrCodeOrderFailed, "no quote available for %s", order.Symbol)
	}

	// Limit orders fill at the limit price when the quote already satisfies it.
	if order.Type == types.OrderTypeLimit {
		limit := order.LimitPrice.TakeOr(0)
		switch order.Side {
		case types.TradeActionBuy:
			if price > limit {
				return OrderExecution{}, errors.Newf(errors.ErrCodeOrderFailed,
					"buy limit %.2f below market %.2f for %s", limit, price, order.Symbol)
			}
		case types.TradeActionSell:
			if price < limit {
				return OrderExecution{}, errors.Newf(errors.ErrCodeOrderFailed,
					"sell limit %.2f above market %.2f for %s", limit, price, order.Symbol)
			}
		}
	}

	cost := order.Qty * price

	switch order.Side {
	case types.TradeActionBuy:
		if cost > p.cash {
			return OrderExecution{}, errors.Newf(errors.ErrCodeOrderFailed,
				"insufficient cash: need %.2f, have %.2f", cost, p.cash)
		}
		p.cash -= cost
		p.applyBuy(order.Symbol, order.Qty, price)
	case types.TradeActionSell:
		pos, ok := p.positions[order.Symbol]
		if !ok || pos.Qty < order.Qty {
			return OrderExecution{}, errors.Newf(errors.ErrCodePositionNotFound,
				"insufficient position in %s to sell %.4f", order.Symbol, order.Qty)
		}
		p.cash += cost
		p.applySell(order.Symbol, order.Qty)
	default:
		return OrderExecution{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order side: %s", order.Side)
	}

	exec := OrderExecution{
		OrderID:     uuid.New().String(),
		Symbol:      order.Symbol,
		Side:        string(order.Side),
		Qty:         order.Qty,
		FilledPrice: price,
		FilledAt:    p.now(),
	}
	p.executions = append(p.executions, exec)
	p.log.Info("Paper order filled",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("qty", order.Qty),
		zap.Float64("price", price))

	return exec, nil
}

func (p *PaperBroker) applyBuy(symbol string, qty, price float64) {
	pos, ok := p.positions[symbol]
	if !ok {
		p.positions[symbol] = &types.Position{
			Symbol:        symbol,
			Qty:           qty,
			AvgEntryPrice: price,
			CurrentPrice:  price,
			MarketValue:   qty * price,
		}
		return
	}

	totalCost := pos.AvgEntryPrice*pos.Qty + price*qty
	pos.Qty += qty
	pos.AvgEntryPrice = totalCost / pos.Qty
	pos.CurrentPrice = price
	pos.MarketValue = pos.Qty * price
	pos.UnrealizedPnLPercent = (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
}

func (p *PaperBroker) applySell(symbol string, qty float64) {
	pos := p.positions[symbol]
	pos.Qty -= qty
	pos.MarketValue = pos.Qty * pos.CurrentPrice
	if pos.Qty <= 0 {
		delete(p.positions, symbol)
	}
}

func (p *PaperBroker) GetPortfolio(_ context.Context) (types.PortfolioState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := types.PortfolioState{
		Cash:      p.cash,
		Positions: make([]types.Position, 0, len(p.positions)),
	}
	state.TotalValue = p.cash
	for _, pos := range p.positions {
		state.Positions = append(state.Positions, *pos)
		state.TotalValue += pos.MarketValue
	}
	return state, nil
}

func (p *PaperBroker) RecentExecutions(_ context.Context, since time.Time) ([]OrderExecution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OrderExecution, 0)
	for i := len(p.executions) - 1; i >= 0; i-- {
		if p.executions[i].FilledAt.Before(since) {
			break
		}
		out = append(out, p.executions[i])
	}
	return out, nil
}
