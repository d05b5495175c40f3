package protocol

import (
	"github.com/bytedance/sonic"
)

var codec = sonic.ConfigStd

// Marshal encodes v with the wire codec.
func Marshal(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// Unmarshal decodes data into v with the wire codec.
func Unmarshal(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}
