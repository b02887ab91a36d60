package core

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSuperblock() *Superblock {
	return &Superblock{Version: 2, OffsetSize: 8, LengthSize: 8}
}

// v1Message renders one v1 header message: 8-byte prefix plus the body
// padded to 8 bytes.
func v1Message(msgType MessageType, body []byte) []byte {
	padded := (len(body) + 7) &^ 7
	out := make([]byte, 8+padded)
	binary.LittleEndian.PutUint16(out[0:2], uint16(msgType))
	binary.LittleEndian.PutUint16(out[2:4], uint16(padded))
	copy(out[8:], body)
	return out
}

func TestReadObjectHeaderV1(t *testing.T) {
	var msgs []byte
	msgs = append(msgs, v1Message(MsgDataspace, make([]byte, 16))...)
	msgs = append(msgs, v1Message(MsgDataLayout, make([]byte, 24))...)

	buf := make([]byte, 16+len(msgs))
	buf[0] = 1 // version
	binary.LittleEndian.PutUint16(buf[2:4], 2)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(msgs)))
	copy(buf[16:], msgs)

	oh, err := ReadObjectHeader(bytes.NewReader(buf), 0, testSuperblock())
	require.NoError(t, err)
	assert.Equal(t, uint8(1), oh.Version)
	require.Len(t, oh.Messages, 2)
	assert.Equal(t, MsgDataspace, oh.Messages[0].Type)
	assert.Equal(t, uint64(16+8), oh.Messages[0].Offset)
	assert.Equal(t, MsgDataLayout, oh.Messages[1].Type)
	assert.True(t, oh.IsDataset())
}

func TestReadObjectHeaderV1Continuation(t *testing.T) {
	// Main block: one dataspace message and a continuation pointing at a
	// second block holding the datatype message.
	contAddr := uint64(0x400)
	contBody := v1Message(MsgDatatype, make([]byte, 8))

	contMsg := make([]byte, 16)
	binary.LittleEndian.PutUint64(contMsg[0:8], contAddr)
	binary.LittleEndian.PutUint64(contMsg[8:16], uint64(len(contBody)))

	var msgs []byte
	msgs = append(msgs, v1Message(MsgDataspace, make([]byte, 16))...)
	msgs = append(msgs, v1Message(MsgContinuation, contMsg)...)

	buf := make([]byte, 0x400+len(contBody))
	buf[0] = 1
	binary.LittleEndian.PutUint16(buf[2:4], 3) // three messages in total
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(msgs)))
	copy(buf[16:], msgs)
	copy(buf[contAddr:], contBody)

	oh, err := ReadObjectHeader(bytes.NewReader(buf), 0, testSuperblock())
	require.NoError(t, err)
	require.Len(t, oh.Messages, 3)
	assert.Equal(t, MsgContinuation, oh.Messages[1].Type)
	assert.Equal(t, MsgDatatype, oh.Messages[2].Type)
	assert.Equal(t, contAddr+8, oh.Messages[2].Offset)
}

// v2Message renders one v2 header message prefix plus body.
func v2Message(msgType MessageType, body []byte) []byte {
	out := make([]byte, 4+len(body))
	out[0] = byte(msgType)
	binary.LittleEndian.PutUint16(out[1:3], uint16(len(body)))
	copy(out[4:], body)
	return out
}

func buildV2Header(addr uint64, msgs ...[]byte) []byte {
	var body []byte
	for _, m := range msgs {
		body = append(body, m...)
	}
	chunkSize := len(body) + 4 // trailing checksum

	buf := make([]byte, 6+2+len(body)+4)
	copy(buf[0:4], "OHDR")
	buf[4] = 2
	buf[5] = 0b01 // 2-byte chunk size field
	binary.LittleEndian.PutUint16(buf[6:8], uint16(chunkSize))
	copy(buf[8:], body)
	return buf
}

func TestReadObjectHeaderV2(t *testing.T) {
	buf := buildV2Header(0,
		v2Message(MsgDataspace, make([]byte, 16)),
		v2Message(MsgDatatype, make([]byte, 12)),
	)

	oh, err := ReadObjectHeader(bytes.NewReader(buf), 0, testSuperblock())
	require.NoError(t, err)
	assert.Equal(t, uint8(2), oh.Version)
	require.Len(t, oh.Messages, 2)
	// Body offset: prefix (6) + chunk size field (2) + message prefix (4).
	assert.Equal(t, uint64(6+2+4), oh.Messages[0].Offset)
	assert.Equal(t, MsgDatatype, oh.Messages[1].Type)
}

func TestReadObjectHeaderV2Continuation(t *testing.T) {
	contAddr := uint64(0x200)
	contMsgBody := make([]byte, 16)

	// Continuation chunk: OCHK + one message + checksum.
	inner := v2Message(MsgDataLayout, make([]byte, 8))
	chunk := make([]byte, 4+len(inner)+4)
	copy(chunk[0:4], "OCHK")
	copy(chunk[4:], inner)

	binary.LittleEndian.PutUint64(contMsgBody[0:8], contAddr)
	binary.LittleEndian.PutUint64(contMsgBody[8:16], uint64(len(chunk)))

	head := buildV2Header(0,
		v2Message(MsgDataspace, make([]byte, 16)),
		v2Message(MsgContinuation, contMsgBody),
	)

	buf := make([]byte, int(contAddr)+len(chunk))
	copy(buf, head)
	copy(buf[contAddr:], chunk)

	oh, err := ReadObjectHeader(bytes.NewReader(buf), 0, testSuperblock())
	require.NoError(t, err)
	require.Len(t, oh.Messages, 3)
	assert.Equal(t, MsgDataLayout, oh.Messages[2].Type)
	assert.Equal(t, contAddr+4+4, oh.Messages[2].Offset)
}

func TestReadObjectHeaderBadPrefix(t *testing.T) {
	buf := []byte{0x42, 0, 0, 0, 0, 0, 0, 0}
	_, err := ReadObjectHeader(bytes.NewReader(buf), 0, testSuperblock())
	assert.Error(t, err)
}
