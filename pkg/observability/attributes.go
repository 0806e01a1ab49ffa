package observability

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
)

var (
	AttrOperation     = attribute.Key("lottery.operation")
	AttrCaller        = attribute.Key("lottery.caller")
	AttrTarget        = attribute.Key("lottery.target")
	AttrNonce         = attribute.Key("lottery.nonce")
	AttrGiveawayIndex = attribute.Key("lottery.giveaway_index")
	AttrErrorKind     = attribute.Key("lottery.error_kind")
)

// KindedError is implemented by errors that carry a stable, low-cardinality kind.
type KindedError interface {
	error
	Kind() string
}

// ErrorKind returns the kind of err for metric labelling, "internal" when unknown.
func ErrorKind(err error) string {
	var k KindedError
	if errors.As(err, &k) {
		return k.Kind()
	}
	return "internal"
}
