package meshproto

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Attachment encodings a subscriber may request.
const (
	EncodingRaw  = "raw"
	EncodingZstd = "zstd"
)

const (
	encodingByteRaw  byte = 0
	encodingByteZstd byte = 1
)

// Attachment is a binary payload referenced from a message by Ref.
type Attachment struct {
	Ref  string `json:"ref"`
	Data []byte `json:"data"`
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// NormalizeEncoding maps unknown or empty encodings to raw.
func NormalizeEncoding(enc string) string {
	if enc == EncodingZstd {
		return EncodingZstd
	}
	return EncodingRaw
}

// EncodeAttachmentFrame builds the binary websocket message for one
// attachment:
//
//	uvarint(len(ref)) | ref | encoding byte | payload
//
// Attachment frames are written before the text message that references them.
func EncodeAttachmentFrame(a Attachment, encoding string) ([]byte, error) {
	var hdr [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(hdr[:], uint64(len(a.Ref)))

	payload := a.Data
	encByte := encodingByteRaw
	if NormalizeEncoding(encoding) == EncodingZstd {
		enc, _, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		payload = enc.EncodeAll(a.Data, nil)
		encByte = encodingByteZstd
	}

	out := make([]byte, 0, n+len(a.Ref)+1+len(payload))
	out = append(out, hdr[:n]...)
	out = append(out, a.Ref...)
	out = append(out, encByte)
	out = append(out, payload...)
	return out, nil
}

func DecodeAttachmentFrame(b []byte) (Attachment, error) {
	refLen, n := binary.Uvarint(b)
	if n <= 0 {
		return Attachment{}, fmt.Errorf("attachment frame: bad ref length")
	}
	if uint64(len(b)-n) < refLen+1 {
		return Attachment{}, fmt.Errorf("attachment frame: truncated (%d bytes)", len(b))
	}
	ref := string(b[n : n+int(refLen)])
	encByte := b[n+int(refLen)]
	payload := b[n+int(refLen)+1:]

	switch encByte {
	case encodingByteRaw:
		data := make([]byte, len(payload))
		copy(data, payload)
		return Attachment{Ref: ref, Data: data}, nil
	case encodingByteZstd:
		_, dec, err := codecs()
		if err != nil {
			return Attachment{}, fmt.Errorf("zstd: %w", err)
		}
		data, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return Attachment{}, fmt.Errorf("attachment %s: %w", ref, err)
		}
		return Attachment{Ref: ref, Data: data}, nil
	default:
		return Attachment{}, fmt.Errorf("attachment %s: unknown encoding %d", ref, encByte)
	}
}
