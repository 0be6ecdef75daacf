package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/internal/utils"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

const (
	// BinanceDecimalPrecision is a default decimal precision used as a fallback.
	// Production systems should use symbol-specific precision from Binance
	// exchange info (e.g. LOT_SIZE, PRICE_FILTER).
	BinanceDecimalPrecision = 8

	// CashAsset is the quote asset treated as cash when deriving the portfolio.
	CashAsset = "USDT"
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// ListTradesService interface for listing trades.
type ListTradesService interface {
	Symbol(symbol string) ListTradesService
	StartTime(startTime int64) ListTradesService
	Do(ctx context.Context) ([]*binance.TradeV3, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetAccountService() GetAccountService
	NewListTradesService() ListTradesService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewListTradesService() ListTradesService {
	return &realListTradesService{service: r.client.NewListTradesService()}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realListTradesService struct {
	service *binance.ListTradesService
}

func (s *realListTradesService) Symbol(symbol string) ListTradesService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListTradesService) StartTime(startTime int64) ListTradesService {
	s.service = s.service.StartTime(startTime)

	return s
}

func (s *realListTradesService) Do(ctx context.Context) ([]*binance.TradeV3, error) {
	return s.service.Do(ctx)
}

// BinanceBroker implements Broker against the Binance API. It is stateless;
// all data is fetched directly from the venue.
type BinanceBroker struct {
	client           BinanceClient
	log              *logger.Logger
	symbols          []string
	decimalPrecision int
	orderTimeout     time.Duration
}

// NewBinanceBroker creates a Broker backed by Binance. symbols lists the
// trading pairs whose fills RecentExecutions reports.
// If useTestnet is true, connects to the Binance testnet.
func NewBinanceBroker(apiKey, secretKey string, symbols []string, useTestnet bool, log *logger.Logger) *BinanceBroker {
	if useTestnet {
		binance.UseTestnet = true
	}

	return &BinanceBroker{
		client:           &realBinanceClient{client: binance.NewClient(apiKey, secretKey)},
		log:              log,
		symbols:          symbols,
		decimalPrecision: BinanceDecimalPrecision,
		orderTimeout:     DefaultOrderTimeout,
	}
}

// newBinanceBrokerWithClient creates a broker with a custom client.
// This is used for testing with mock clients.
func newBinanceBrokerWithClient(client BinanceClient, symbols []string, log *logger.Logger) *BinanceBroker {
	return &BinanceBroker{
		client:           client,
		log:              log,
		symbols:          symbols,
		decimalPrecision: BinanceDecimalPrecision,
		orderTimeout:     DefaultOrderTimeout,
	}
}

func (b *BinanceBroker) PlaceOrder(ctx context.Context, order types.Order) (OrderExecution, error) {
	if err := order.Validate(); err != nil {
		return OrderExecution{}, err
	}

	var side binance.SideType

	switch order.Side {
	case types.TradeActionBuy:
		side = binance.SideTypeBuy
	case types.TradeActionSell:
		side = binance.SideTypeSell
	default:
		return OrderExecution{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order side: %s", order.Side)
	}

	var orderType binance.OrderType

	switch order.Type {
	case types.OrderTypeMarket:
		orderType = binance.OrderTypeMarket
	case types.OrderTypeLimit:
		orderType = binance.OrderTypeLimit
	default:
		return OrderExecution{}, errors.Newf(errors.ErrCodeInvalidOrder, "unsupported order type: %s", order.Type)
	}

	roundedQuantity := utils.RoundToDecimalPrecision(order.Qty, b.decimalPrecision)
	if roundedQuantity <= 0 {
		return OrderExecution{}, errors.Newf(errors.ErrCodeInvalidOrder,
			"order quantity %.8f is too small after rounding to %d decimal places",
			order.Qty, b.decimalPrecision)
	}

	orderService := b.client.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(side).
		Type(orderType).
		Quantity(strconv.FormatFloat(roundedQuantity, 'f', b.decimalPrecision, 64))

	if order.Type == types.OrderTypeLimit {
		orderService = orderService.
			Price(strconv.FormatFloat(order.LimitPrice.TakeOr(0), 'f', -1, 64)).
			TimeInForce(binance.TimeInForceTypeGTC)
	}

	orderCtx, cancel := context.WithTimeout(ctx, b.orderTimeout)
	defer cancel()

	resp, err := orderService.Do(orderCtx)
	if err != nil {
		if orderCtx.Err() == context.DeadlineExceeded {
			return OrderExecution{}, errors.Wrapf(errors.ErrCodeOrderTimeout, err,
				"order for %s not confirmed within %s", order.Symbol, b.orderTimeout)
		}

		return OrderExecution{}, errors.Wrap(errors.ErrCodeOrderFailed, "failed to place order on Binance", err)
	}

	exec := OrderExecution{
		OrderID:     strconv.FormatInt(resp.OrderID, 10),
		Symbol:      resp.Symbol,
		Side:        string(order.Side),
		Qty:         roundedQuantity,
		FilledPrice: fillPrice(resp),
		FilledAt:    time.UnixMilli(resp.TransactTime),
	}

	b.log.Info("Binance order placed",
		zap.String("symbol", exec.Symbol),
		zap.String("orderId", exec.OrderID),
		zap.Float64("filledPrice", exec.FilledPrice))

	return exec, nil
}

// fillPrice averages the fill prices weighted by quantity. Market orders on
// Binance report price 0 on the response itself.
func fillPrice(resp *binance.CreateOrderResponse) float64 {
	var totalQty, totalCost float64

	for _, fill := range resp.Fills {
		price, _ := strconv.ParseFloat(fill.Price, 64)
		qty, _ := strconv.ParseFloat(fill.Quantity, 64)
		totalQty += qty
		totalCost += price * qty
	}

	if totalQty > 0 {
		return totalCost / totalQty
	}

	price, _ := strconv.ParseFloat(resp.Price, 64)

	return price
}

// GetPortfolio derives portfolio state from account balances. Non-cash assets
// become positions; entry prices are not available from the balance endpoint.
func (b *BinanceBroker) GetPortfolio(ctx context.Context) (types.PortfolioState, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.PortfolioState{}, errors.Wrap(errors.ErrCodePortfolioFetchFailed,
			"failed to get account info from Binance", err)
	}

	state := types.PortfolioState{
		Positions: make([]types.Position, 0),
	}

	for _, balance := range account.Balances {
		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)
		total := free + locked

		if total <= 0 {
			continue
		}

		if balance.Asset == CashAsset {
			state.Cash = total
			continue
		}

		state.Positions = append(state.Positions, types.Position{
			Symbol: balance.Asset,
			Qty:    total,
		})
	}

	state.TotalValue = state.Cash
	for _, pos := range state.Positions {
		state.TotalValue += pos.MarketValue
	}

	return state, nil
}

func (b *BinanceBroker) RecentExecutions(ctx context.Context, since time.Time) ([]OrderExecution, error) {
	out := make([]OrderExecution, 0)

	for _, symbol := range b.symbols {
		trades, err := b.client.NewListTradesService().
			Symbol(symbol).
			StartTime(since.UnixMilli()).
			Do(ctx)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrCodeOrderFailed, err,
				"failed to get trades for %s from Binance", symbol)
		}

		for _, trade := range trades {
			price, _ := strconv.ParseFloat(trade.Price, 64)
			qty, _ := strconv.ParseFloat(trade.Quantity, 64)

			side := string(types.TradeActionSell)
			if trade.IsBuyer {
				side = string(types.TradeActionBuy)
			}

			out = append(out, OrderExecution{
				OrderID:     strconv.FormatInt(trade.OrderID, 10),
				Symbol:      trade.Symbol,
				Side:        side,
				Qty:         qty,
				FilledPrice: price,
				FilledAt:    time.UnixMilli(trade.Time),
			})
		}
	}

	return out, nil
}
