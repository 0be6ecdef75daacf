package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/delphi-lab/delphi-trading/internal/types"
)

type HistoryTestSuite struct {
	suite.Suite
}

func TestHistorySuite(t *testing.T) {
	suite.Run(t, new(HistoryTestSuite))
}

func (suite *HistoryTestSuite) signal(id string) types.Signal {
	return types.Signal{
		ID:     id,
		Time:   time.Now(),
		Agent:  "delphi",
		Ticker: "TMV",
		Action: types.TradeActionBuy,
	}
}

func (suite *HistoryTestSuite) TestAddAndRecent() {
	history := NewSignalHistory(10)

	history.Add(suite.signal("a"), suite.signal("b"), suite.signal("c"))

	suite.Assert().Equal(3, history.Len())

	recent := history.Recent(2)
	suite.Require().Len(recent, 2)
	suite.Assert().Equal("b", recent[0].ID)
	suite.Assert().Equal("c", recent[1].ID)
}

func (suite *HistoryTestSuite) TestEvictsOldestBeyondCapacity() {
	history := NewSignalHistory(3)

	for i := 0; i < 5; i++ {
		history.Add(suite.signal(fmt.Sprintf("s%d", i)))
	}

	suite.Assert().Equal(3, history.Len())

	recent := history.Recent(10)
	suite.Require().Len(recent, 3)
	suite.Assert().Equal("s2", recent[0].ID)
	suite.Assert().Equal("s4", recent[2].ID)
}

func (suite *HistoryTestSuite) TestRecentReturnsCopy() {
	history := NewSignalHistory(10)
	history.Add(suite.signal("a"))

	recent := history.Recent(1)
	recent[0].ID = "mutated"

	suite.Assert().Equal("a", history.Recent(1)[0].ID)
}

func (suite *HistoryTestSuite) TestRecentOnEmpty() {
	history := NewSignalHistory(10)

	suite.Assert().Empty(history.Recent(5))
	suite.Assert().Zero(history.Len())
}
