package voucherv1

import (
	"encoding/json"
	"fmt"
)

// JSONCodec is a connect.Codec that encodes the plain Go messages of this
// package with encoding/json. It replaces connect's protobuf-backed "json"
// codecs on both handlers and clients; CharsetUTF8 selects the
// "json; charset=utf-8" variant.
type JSONCodec struct {
	CharsetUTF8 bool
}

func (c JSONCodec) Name() string {
	if c.CharsetUTF8 {
		return "json; charset=utf-8"
	}
	return "json"
}

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}
