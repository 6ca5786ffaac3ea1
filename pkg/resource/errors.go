package resource

import (
	"errors"

	"github.com/kbirk/peerchan/pkg/channel"
)

// Resource errors are channel errors so that they keep their identity when
// pushed to the remote side.
var (
	ErrResourceDisposed            = channel.NewChannelError("resource is disposed", channel.CodeRequestError)
	ErrResourceExpired             = channel.NewChannelError("resource lifespan expired", channel.CodeRequestError)
	ErrResourceSlidingUsageExpired = channel.NewChannelError("resource sliding usage expired", channel.CodeRequestError)

	ErrManagerDisposed = errors.New("resource manager disposed")
)
