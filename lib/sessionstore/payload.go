// Copyright 2026 The Athena Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/athena-flow/athena/lib/codec"
)

const (
	encodingCBOR     = "cbor"
	encodingCBORZstd = "cbor+zstd"

	// compressThreshold is the CBOR size above which payloads are
	// compressed. Most hook payloads are a few hundred bytes; tool
	// responses carrying file contents are the ones worth compressing.
	compressThreshold = 4096
)

// payloadKey domain-separates payload digests from any other BLAKE3
// use.
var payloadKey = [32]byte{
	'a', 't', 'h', 'e', 'n', 'a', '.', 's', 'e', 's', 's', 'i', 'o', 'n',
	's', 't', 'o', 'r', 'e', '.', 'p', 'a', 'y', 'l', 'o', 'a', 'd', '.', 'v', '1',
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("sessionstore: creating zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("sessionstore: creating zstd decoder: " + err.Error())
	}
}

type encodedPayload struct {
	data     []byte
	encoding string
	digest   []byte
}

// encodePayload converts a JSON payload to stored form.
func encodePayload(raw json.RawMessage) (encodedPayload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	cborData, err := codec.FromJSON(raw)
	if err != nil {
		return encodedPayload{}, fmt.Errorf("sessionstore: encoding payload: %w", err)
	}
	payload := encodedPayload{
		data:     cborData,
		encoding: encodingCBOR,
		digest:   payloadDigest(cborData),
	}
	if len(cborData) > compressThreshold {
		payload.data = zstdEncoder.EncodeAll(cborData, nil)
		payload.encoding = encodingCBORZstd
	}
	return payload, nil
}

// decodePayload reverses encodePayload and checks the digest when one
// was stored.
func decodePayload(data []byte, encoding string, digest []byte) (json.RawMessage, error) {
	var cborData []byte
	switch encoding {
	case encodingCBOR:
		cborData = data
	case encodingCBORZstd:
		decompressed, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("sessionstore: decompressing payload: %w", err)
		}
		cborData = decompressed
	default:
		return nil, fmt.Errorf("sessionstore: unknown payload encoding %q", encoding)
	}
	if len(digest) > 0 && !bytes.Equal(digest, payloadDigest(cborData)) {
		return nil, fmt.Errorf("sessionstore: payload digest mismatch")
	}
	jsonData, err := codec.ToJSON(cborData)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: decoding payload: %w", err)
	}
	return jsonData, nil
}

func payloadDigest(data []byte) []byte {
	hasher, err := blake3.NewKeyed(payloadKey[:])
	if err != nil {
		panic("sessionstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}
