package bus

// defaultHeaderCodec implements HeaderSerializer by passing scalar string
// values through unchanged. Transports whose header bag is natively
// string-keyed/string-valued (Kafka record headers, AMQP table entries,
// Service Bus application properties) can use this directly; transports
// with richer header types supply their own HeaderSerializer.
type defaultHeaderCodec struct{}

// NewDefaultHeaderCodec returns the identity Header Codec described in §2.
func NewDefaultHeaderCodec() HeaderSerializer { return defaultHeaderCodec{} }

func (defaultHeaderCodec) EncodeHeaders(h Headers) (Headers, error) {
	return h.Clone(), nil
}

func (defaultHeaderCodec) DecodeHeaders(raw Headers) (Headers, error) {
	return raw.Clone(), nil
}
