// Package depthcodec quantizes a float32 depth map into a compact binary
// wire payload: a fixed 32-byte header followed by 16-bit pixels, raw or
// deflated.
package depthcodec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	HeaderSize = 32

	magicRaw     = "VDZ1"
	magicDeflate = "VDZ2"

	version     uint16 = 1
	dataTypeU16 uint16 = 1
)

// Header is the bit-exact 32-byte little-endian wire header described in
// the wire format contract.
type Header struct {
	Magic       [4]byte
	Version     uint16
	DataType    uint16
	TimestampMs uint32
	Width       uint32
	Height      uint32
	Scale       float32
	Bias        float32
	ZMax        float32
}

// DepthMap is a flat, row-major float32 depth buffer. It never fails to
// construct; callers are expected to sanitize NaN/Inf before packing (the
// inference stage does this once, before a map is ever cached or sent).
type DepthMap struct {
	Width, Height int
	Data          []float32 // len == Width*Height, row-major
}

func NewDepthMap(width, height int) DepthMap {
	return DepthMap{Width: width, Height: height, Data: make([]float32, width*height)}
}

func (d DepthMap) At(x, y int) float32 { return d.Data[y*d.Width+x] }

func (d DepthMap) Set(x, y int, v float32) { d.Data[y*d.Width+x] = v }

// Sanitize replaces NaN/±Inf with 0, in place, matching the "sanitized to 0
// during production" invariant on cached depth frames.
func (d DepthMap) Sanitize() {
	for i, v := range d.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			d.Data[i] = 0
		}
	}
}

// Pack quantizes depth to 16-bit using (zMin, zMax) and frames it with the
// fixed header. compress controls raw (VDZ1) vs deflate (VDZ2) payloads.
func Pack(depth DepthMap, timestampMs float64, zMin, zMax float32, compress bool) ([]byte, error) {
	if zMax <= zMin {
		zMax = zMin + 1e-3
	}
	scale := (zMax - zMin) / 65535.0

	pixels := make([]byte, len(depth.Data)*2)
	for i, v := range depth.Data {
		clamped := v
		if clamped < zMin {
			clamped = zMin
		} else if clamped > zMax {
			clamped = zMax
		}
		normalized := (clamped - zMin) / scale
		q := uint16(math.Round(float64(normalized)))
		binary.LittleEndian.PutUint16(pixels[i*2:], q)
	}

	magic := magicRaw
	payload := pixels
	if compress {
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(pixels); err != nil {
			return nil, fmt.Errorf("depthcodec: deflate payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("depthcodec: close deflate writer: %w", err)
		}
		payload = buf.Bytes()
		magic = magicDeflate
	}

	out := make([]byte, HeaderSize+len(payload))
	copy(out[0:4], magic)
	binary.LittleEndian.PutUint16(out[4:6], version)
	binary.LittleEndian.PutUint16(out[6:8], dataTypeU16)
	binary.LittleEndian.PutUint32(out[8:12], uint32(timestampMs))
	binary.LittleEndian.PutUint32(out[12:16], uint32(depth.Width))
	binary.LittleEndian.PutUint32(out[16:20], uint32(depth.Height))
	binary.LittleEndian.PutUint32(out[20:24], math.Float32bits(scale))
	binary.LittleEndian.PutUint32(out[24:28], math.Float32bits(zMin))
	binary.LittleEndian.PutUint32(out[28:32], math.Float32bits(zMax))
	copy(out[HeaderSize:], payload)

	return out, nil
}

// ParseHeader reads the 32-byte header from the front of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("depthcodec: buffer too short for header: %d bytes", len(buf))
	}
	var h Header
	copy(h.Magic[:], buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.DataType = binary.LittleEndian.Uint16(buf[6:8])
	h.TimestampMs = binary.LittleEndian.Uint32(buf[8:12])
	h.Width = binary.LittleEndian.Uint32(buf[12:16])
	h.Height = binary.LittleEndian.Uint32(buf[16:20])
	h.Scale = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	h.Bias = math.Float32frombits(binary.LittleEndian.Uint32(buf[24:28]))
	h.ZMax = math.Float32frombits(binary.LittleEndian.Uint32(buf[28:32]))
	return h, nil
}

// Unpack parses a full payload (header + pixels) back into a dequantized
// DepthMap. It is the inverse of Pack, used by tests and by any client-side
// Go tooling that needs to verify round-trip bounds.
func Unpack(buf []byte) (DepthMap, Header, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return DepthMap{}, Header{}, err
	}

	body := buf[HeaderSize:]
	if string(h.Magic[:]) == magicDeflate {
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return DepthMap{}, Header{}, fmt.Errorf("depthcodec: open deflate reader: %w", err)
		}
		defer r.Close()
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return DepthMap{}, Header{}, fmt.Errorf("depthcodec: inflate payload: %w", err)
		}
		body = decompressed
	}

	n := int(h.Width) * int(h.Height)
	if len(body) < n*2 {
		return DepthMap{}, Header{}, fmt.Errorf("depthcodec: payload too short: want %d bytes, got %d", n*2, len(body))
	}

	out := NewDepthMap(int(h.Width), int(h.Height))
	for i := 0; i < n; i++ {
		q := binary.LittleEndian.Uint16(body[i*2:])
		out.Data[i] = h.Bias + float32(q)*h.Scale
	}
	return out, h, nil
}
