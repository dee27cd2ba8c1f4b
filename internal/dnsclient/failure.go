package dnsclient

import (
	"context"
	"errors"

	"github.com/bassosimone/errclass"
	"github.com/jaxxstorm/probedigest/internal/model"
)

// FailureKind maps an exchange error onto the transport failure kinds used in
// probe results.
func FailureKind(err error) model.TransportKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.TransportTimeout
	}
	switch errclass.New(err) {
	case errclass.ETIMEDOUT:
		return model.TransportTimeout
	case errclass.ECONNREFUSED, errclass.ECONNRESET, errclass.ECONNABORTED:
		return model.TransportConnect
	case errclass.EHOSTUNREACH, errclass.ENETUNREACH, errclass.ENETDOWN:
		return model.TransportNetwork
	default:
		return model.TransportUnknown
	}
}
