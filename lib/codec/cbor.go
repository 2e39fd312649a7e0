// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// encMode encodes with Core Deterministic Encoding: sorted map keys,
// smallest integer encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode decodes any-typed maps as map[string]any and bignums as
// *big.Int so the result can be handed straight to encoding/json.
var decMode cbor.DecMode

// jsonNumberTag wraps the text of a JSON number that fits neither an
// integer nor a float64, such as 1e400.
const jsonNumberTag = 0x6a736f6e

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		BigIntDec:      cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// FromJSON converts a JSON document into canonical CBOR. Integral JSON
// numbers become CBOR integers (bignums beyond 64 bits) and all other
// numbers become floats, so identifiers and counters survive the round
// trip exactly. A number too large for a float64 keeps its literal text.
func FromJSON(data []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("codec: decoding JSON: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("codec: trailing data after JSON value")
	}

	encoded, err := encMode.Marshal(normalizeNumbers(value))
	if err != nil {
		return nil, fmt.Errorf("codec: encoding CBOR: %w", err)
	}
	return encoded, nil
}

// ToJSON converts CBOR produced by FromJSON back into compact JSON.
// Object keys come out sorted (encoding/json sorts map keys), which is
// also the canonical CBOR order.
func ToJSON(data []byte) ([]byte, error) {
	var value any
	if err := decMode.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("codec: decoding CBOR: %w", err)
	}
	encoded, err := json.Marshal(restoreNumbers(value))
	if err != nil {
		return nil, fmt.Errorf("codec: encoding JSON: %w", err)
	}
	return encoded, nil
}

// normalizeNumbers replaces json.Number values throughout a decoded
// JSON tree with int64, uint64, *big.Int, float64, or a jsonNumberTag
// holding the literal.
func normalizeNumbers(value any) any {
	switch typed := value.(type) {
	case json.Number:
		text := typed.String()
		if integer, err := typed.Int64(); err == nil {
			return integer
		}
		if unsigned, err := strconv.ParseUint(text, 10, 64); err == nil {
			return unsigned
		}
		if integer, ok := new(big.Int).SetString(text, 10); ok {
			return integer
		}
		if float, err := typed.Float64(); err == nil {
			return float
		}
		return cbor.Tag{Number: jsonNumberTag, Content: text}
	case map[string]any:
		for key, element := range typed {
			typed[key] = normalizeNumbers(element)
		}
		return typed
	case []any:
		for index, element := range typed {
			typed[index] = normalizeNumbers(element)
		}
		return typed
	default:
		return value
	}
}

// restoreNumbers turns jsonNumberTag values back into json.Number.
func restoreNumbers(value any) any {
	switch typed := value.(type) {
	case cbor.Tag:
		if text, ok := typed.Content.(string); ok && typed.Number == jsonNumberTag {
			return json.Number(text)
		}
		return typed
	case map[string]any:
		for key, element := range typed {
			typed[key] = restoreNumbers(element)
		}
		return typed
	case []any:
		for index, element := range typed {
			typed[index] = restoreNumbers(element)
		}
		return typed
	default:
		return value
	}
}
