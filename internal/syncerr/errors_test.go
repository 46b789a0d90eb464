package syncerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := Wrap(TransportFailure, "createFeed", ErrAlreadySubscribed)

	assert.True(t, errors.Is(err, ErrAlreadySubscribed))
	assert.True(t, errors.Is(err, &Error{Kind: RemoteConflict}))
	assert.False(t, errors.Is(err, ErrCreateNotFound))
	assert.Equal(t, RemoteConflict, KindOf(err))
}

func TestWrapPlainError(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(TransportFailure, "refreshAll", cause)

	assert.True(t, IsKind(err, TransportFailure))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "refreshAll: transport failure: connection reset", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(TransportFailure, "op", nil))
	assert.False(t, IsKind(nil, TransportFailure))
}

func TestKindOfForeignError(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.New("inner"))
	assert.Equal(t, KindUnknown, KindOf(err))
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: ZoneInvalidated}, "zone invalidated"},
		{&Error{Kind: RemoteNotFound, Op: "removeFeed"}, "removeFeed: remote not found"},
		{&Error{Kind: RemoteConflict, Msg: "already subscribed"}, "already subscribed"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Error())
	}
}
