package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeProposalNotFound, "proposal not found: %s", "abc-123")
	suite.NotNil(err)
	suite.Equal(ErrCodeProposalNotFound, err.Code)
	suite.Equal("proposal not found: abc-123", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStateNotFound, "state not found", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeStateNotFound, err.Code)
	suite.Equal("state not found", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeQuoteFetchFailed, cause, "quote fetch failed for symbol: %s", "TMV")
	suite.NotNil(err)
	suite.Equal(ErrCodeQuoteFetchFailed, err.Code)
	suite.Equal("quote fetch failed for symbol: TMV", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStateNotFound, "state not found", cause)
	suite.Equal("[200] state not found: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeStateNotFound, "state not found", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeIllegalTransition, "cannot execute a pending proposal")
	suite.Equal(ErrCodeIllegalTransition, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeStateNotFound, "state not found")
	err := Wrap(ErrCodeStoreUnavailable, "store unavailable", cause)
	// GetCode should return the outermost error's code
	suite.Equal(ErrCodeStoreUnavailable, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromStandardError() {
	err := errors.New("standard error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeRiskBlocked, "order value exceeds limit")
	suite.True(HasCode(err, ErrCodeRiskBlocked))
	suite.False(HasCode(err, ErrCodeOrderFailed))
}

func (suite *ErrorTestSuite) TestIsAndAs() {
	cause := New(ErrCodeOrderTimeout, "broker call timed out")
	wrapped := fmt.Errorf("execute failed: %w", cause)

	suite.True(Is(wrapped, cause))

	var target *Error
	suite.True(As(wrapped, &target))
	suite.Equal(ErrCodeOrderTimeout, target.Code)
}

func (suite *ErrorTestSuite) TestStaleDataError() {
	asOf := time.Now().Add(-10 * time.Minute)
	err := NewStaleDataError(asOf, 5*time.Minute, "snapshot is 10 minutes old")

	suite.Equal("snapshot is 10 minutes old", err.Error())
	suite.Equal(asOf, err.AsOf)
	suite.Equal(5*time.Minute, err.MaxAge)
	suite.False(err.IsMock)
	suite.True(IsStaleDataError(err))
	suite.Equal(ErrCodeStaleData, GetCode(err))
}

func (suite *ErrorTestSuite) TestMockDataError() {
	err := NewMockDataError("snapshot flagged as mock data")

	suite.True(err.IsMock)
	suite.True(IsStaleDataError(err))
	suite.Equal(ErrCodeMockData, GetCode(err))
}

func (suite *ErrorTestSuite) TestStaleDataErrorWrapped() {
	inner := NewStaleDataError(time.Now(), time.Minute, "stale")
	wrapped := fmt.Errorf("cycle blocked: %w", inner)

	suite.True(IsStaleDataError(wrapped))
	suite.False(IsStaleDataError(errors.New("other")))
}
