package autodep

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compressedFlag is OR'd into a frame's MsgType to mark its payload as
// zstd-compressed, following transport/proto's convention of
// keeping compression as a per-message opt-in rather than a whole-
// connection mode — most gather traffic (single access events) is too
// small to benefit, but a batch flushed after a job that touched
// thousands of files compresses well (spec.md §4.3 "batched reporting").
const compressedFlag byte = 0x80

// CompressThreshold is the payload size from which writeCompressible (and
// so WriteAccessBatch) actually compresses rather than sending the batch raw.
const CompressThreshold = 4096

var (
	sharedEncoder *zstd.Encoder
	sharedDecoder *zstd.Decoder
)

func init() {
	sharedEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	sharedDecoder, _ = zstd.NewReader(nil)
}

// writeCompressible compresses the frame's payload when it is large enough
// to be worth it and returns the resulting frame, tagging MsgType
// accordingly; it does not write anything.
func writeCompressible(f Frame) Frame {
	if len(f.Payload) < CompressThreshold {
		return f
	}
	return Frame{MsgType: f.MsgType | compressedFlag, Payload: sharedEncoder.EncodeAll(f.Payload, nil)}
}

// decompressIfNeeded reverses writeCompressible, returning the original
// message type with the flag stripped and the payload inflated.
func decompressIfNeeded(f Frame) (Frame, error) {
	if f.MsgType&compressedFlag == 0 {
		return f, nil
	}
	out, err := sharedDecoder.DecodeAll(f.Payload, nil)
	if err != nil {
		return Frame{}, fmt.Errorf("autodep: decompress frame: %w", err)
	}
	return Frame{MsgType: f.MsgType &^ compressedFlag, Payload: out}, nil
}

// WriteAccessBatch marshals and writes a batch of access events, opting
// into compression once the encoded payload crosses CompressThreshold.
func WriteAccessBatch(w io.Writer, batch AccessBatch) error {
	payload, err := batch.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("autodep: marshal access batch: %w", err)
	}
	return WriteFrame(w, writeCompressible(Frame{MsgType: MsgAccessBatch, Payload: payload}))
}

// ReadAccessBatch reads and decodes one access-batch frame, transparently
// inflating it if the sender compressed it.
func ReadAccessBatch(r io.Reader) (AccessBatch, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return AccessBatch{}, err
	}
	f, err = decompressIfNeeded(f)
	if err != nil {
		return AccessBatch{}, err
	}
	if f.MsgType != MsgAccessBatch {
		return AccessBatch{}, fmt.Errorf("autodep: expected access batch frame, got type %#x", f.MsgType)
	}
	var batch AccessBatch
	if _, err := batch.UnmarshalMsg(f.Payload); err != nil {
		return AccessBatch{}, fmt.Errorf("autodep: unmarshal access batch: %w", err)
	}
	return batch, nil
}
