package broker

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

type PaperBrokerTestSuite struct {
	suite.Suite
	broker *PaperBroker
}

func (suite *PaperBrokerTestSuite) SetupTest() {
	suite.broker = NewPaperBroker(100000, logger.NewNopLogger())
	suite.broker.SetQuote("TMV", 42.50)
}

func TestPaperBrokerSuite(t *testing.T) {
	suite.Run(t, new(PaperBrokerTestSuite))
}

func (suite *PaperBrokerTestSuite) buy(qty float64) OrderExecution {
	exec, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol: "TMV",
		Qty:    qty,
		Side:   types.TradeActionBuy,
		Type:   types.OrderTypeMarket,
	})
	suite.Require().NoError(err)
	return exec
}

func (suite *PaperBrokerTestSuite) TestMarketBuyFillsAtQuote() {
	exec := suite.buy(100)

	suite.Assert().InDelta(42.50, exec.FilledPrice, 1e-9)
	suite.Assert().NotEmpty(exec.OrderID)

	portfolio, err := suite.broker.GetPortfolio(context.Background())
	suite.Require().NoError(err)
	suite.Assert().InDelta(100000-4250, portfolio.Cash, 1e-9)
	suite.Require().Len(portfolio.Positions, 1)
	suite.Assert().InDelta(100, portfolio.Positions[0].Qty, 1e-9)
	suite.Assert().InDelta(100000, portfolio.TotalValue, 1e-9)
}

func (suite *PaperBrokerTestSuite) TestRepeatedBuysAverageEntry() {
	suite.buy(100)
	suite.broker.SetQuote("TMV", 50)
	suite.buy(100)

	portfolio, err := suite.broker.GetPortfolio(context.Background())
	suite.Require().NoError(err)
	suite.Require().Len(portfolio.Positions, 1)
	suite.Assert().InDelta(46.25, portfolio.Positions[0].AvgEntryPrice, 1e-9)
	suite.Assert().InDelta(200, portfolio.Positions[0].Qty, 1e-9)
}

func (suite *PaperBrokerTestSuite) TestSellClosesPosition() {
	suite.buy(100)
	suite.broker.SetQuote("TMV", 45)

	_, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol: "TMV",
		Qty:    100,
		Side:   types.TradeActionSell,
		Type:   types.OrderTypeMarket,
	})
	suite.Require().NoError(err)

	portfolio, err := suite.broker.GetPortfolio(context.Background())
	suite.Require().NoError(err)
	suite.Assert().Empty(portfolio.Positions)
	suite.Assert().InDelta(100000-4250+4500, portfolio.Cash, 1e-9)
}

func (suite *PaperBrokerTestSuite) TestSellWithoutPosition() {
	_, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol: "TMV",
		Qty:    10,
		Side:   types.TradeActionSell,
		Type:   types.OrderTypeMarket,
	})

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodePositionNotFound))
}

func (suite *PaperBrokerTestSuite) TestInsufficientCash() {
	_, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol: "TMV",
		Qty:    1e6,
		Side:   types.TradeActionBuy,
		Type:   types.OrderTypeMarket,
	})

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeOrderFailed))
}

func (suite *PaperBrokerTestSuite) TestNoQuote() {
	_, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol: "UNKNOWN",
		Qty:    1,
		Side:   types.TradeActionBuy,
		Type:   types.OrderTypeMarket,
	})

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeOrderFailed))
}

func (suite *PaperBrokerTestSuite) TestBuyLimitAboveMarketFills() {
	exec, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol:     "TMV",
		Qty:        10,
		Side:       types.TradeActionBuy,
		Type:       types.OrderTypeLimit,
		LimitPrice: optional.Some(43.0),
	})

	suite.Require().NoError(err)
	suite.Assert().InDelta(42.50, exec.FilledPrice, 1e-9)
}

func (suite *PaperBrokerTestSuite) TestBuyLimitBelowMarketRejected() {
	_, err := suite.broker.PlaceOrder(context.Background(), types.Order{
		Symbol:     "TMV",
		Qty:        10,
		Side:       types.TradeActionBuy,
		Type:       types.OrderTypeLimit,
		LimitPrice: optional.Some(40.0),
	})

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeOrderFailed))
}

func (suite *PaperBrokerTestSuite) TestRecentExecutionsSinceFilter() {
	start := time.Now()
	suite.buy(10)
	suite.buy(20)

	execs, err := suite.broker.RecentExecutions(context.Background(), start)
	suite.Require().NoError(err)
	suite.Assert().Len(execs, 2)

	execs, err = suite.broker.RecentExecutions(context.Background(), time.Now().Add(time.Hour))
	suite.Require().NoError(err)
	suite.Assert().Empty(execs)
}
