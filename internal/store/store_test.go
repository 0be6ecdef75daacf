package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/delphi-lab/delphi-trading/internal/logger"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

type StoreTestSuite struct {
	suite.Suite
	stores map[string]Store
}

func (suite *StoreTestSuite) SetupTest() {
	duck, err := NewDuckDBStore(":memory:", logger.NewNopLogger())
	suite.Require().NoError(err)

	suite.stores = map[string]Store{
		"memory": NewMemoryStore(),
		"duckdb": duck,
	}
}

func (suite *StoreTestSuite) TearDownTest() {
	for _, s := range suite.stores {
		s.Close()
	}
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) TestSaveAndLoad() {
	ctx := context.Background()
	for name, s := range suite.stores {
		suite.Run(name, func() {
			err := s.Save(ctx, KeyProposals, []byte(`{"v":1}`))
			assert.NoError(suite.T(), err)

			got, err := s.Load(ctx, KeyProposals)
			assert.NoError(suite.T(), err)
			assert.Equal(suite.T(), `{"v":1}`, string(got))
		})
	}
}

func (suite *StoreTestSuite) TestSaveReplacesValue() {
	ctx := context.Background()
	for name, s := range suite.stores {
		suite.Run(name, func() {
			suite.Require().NoError(s.Save(ctx, KeyDailyStats, []byte("first")))
			suite.Require().NoError(s.Save(ctx, KeyDailyStats, []byte("second")))

			got, err := s.Load(ctx, KeyDailyStats)
			assert.NoError(suite.T(), err)
			assert.Equal(suite.T(), "second", string(got))
		})
	}
}

func (suite *StoreTestSuite) TestLoadMissingKey() {
	ctx := context.Background()
	for name, s := range suite.stores {
		suite.Run(name, func() {
			_, err := s.Load(ctx, "never_saved")
			assert.Error(suite.T(), err)
			assert.True(suite.T(), errors.HasCode(err, errors.ErrCodeStateNotFound))
		})
	}
}

func (suite *StoreTestSuite) TestMemoryStoreCopiesValues() {
	ctx := context.Background()
	s := NewMemoryStore()
	original := []byte("unchanged")
	suite.Require().NoError(s.Save(ctx, "k", original))
	original[0] = 'X'

	got, err := s.Load(ctx, "k")
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), "unchanged", string(got))
}
