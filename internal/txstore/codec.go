package txstore

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Core Deterministic Encoding，相同的元数据总是编码成相同的字节
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("txstore: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("txstore: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeMeta(m *Meta) ([]byte, error) {
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("编码事务元数据失败: %w", err)
	}
	return b, nil
}

func decodeMeta(b []byte) (*Meta, error) {
	var m Meta
	if err := decMode.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("解析事务元数据失败: %w", err)
	}
	return &m, nil
}
