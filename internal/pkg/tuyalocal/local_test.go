package tuyalocal

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef"

func encodeReply(seq, cmd, retcode uint32, payload []byte) []byte {
	buf := make([]byte, 0)
	buf = binary.BigEndian.AppendUint32(buf, prefix)
	buf = binary.BigEndian.AppendUint32(buf, seq)
	buf = binary.BigEndian.AppendUint32(buf, cmd)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)+12))
	buf = binary.BigEndian.AppendUint32(buf, retcode)
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	buf = binary.BigEndian.AppendUint32(buf, suffix)
	return buf
}

// readRequest parses a client frame, which has no return code.
func readRequest(r io.Reader) (uint32, []byte, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[12:16])
	if length < 8 {
		return 0, nil, ErrBadFrame
	}
	rest := make([]byte, length)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, nil, err
	}

	sum := crc32.ChecksumIEEE(append(header, rest[:len(rest)-8]...))
	if sum != binary.BigEndian.Uint32(rest[len(rest)-8:len(rest)-4]) {
		return 0, nil, ErrBadFrame
	}
	return binary.BigEndian.Uint32(header[8:12]), rest[:len(rest)-8], nil
}

func Test_EncryptRoundTrip(t *testing.T) {
	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)

	for _, plain := range [][]byte{[]byte("{}"), bytes.Repeat([]byte("a"), 16), []byte(`{"dps":{"1":true}}`)} {
		enc := encrypt(block, plain)
		assert.Zero(t, len(enc)%aes.BlockSize)
		dec, err := decrypt(block, enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}

	_, err = decrypt(block, []byte("short"))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func Test_ReadFrame(t *testing.T) {
	reply := encodeReply(7, cmdDPQuery, 0, []byte("payload"))
	f, err := readFrame(bytes.NewReader(reply))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), f.seq)
	assert.Equal(t, cmdDPQuery, f.cmd)
	assert.Equal(t, []byte("payload"), f.payload)

	reply[20] ^= 0xff
	_, err = readFrame(bytes.NewReader(reply))
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = readFrame(bytes.NewReader([]byte{0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrBadFrame)
}

func Test_NewDevice(t *testing.T) {
	_, err := NewDevice("dev1", "10.0.0.5", "short")
	assert.ErrorIs(t, err, ErrBadKey)

	d, err := NewDevice("dev1", "10.0.0.5", testKey)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:6668", d.Address)

	d, err = NewDevice("dev1", "127.0.0.1:7000", testKey)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", d.Address)
}

// fakeLock answers one dp query for dev1 with the given frames.
func fakeLock(t *testing.T, replies func(block cipher.Block) [][]byte) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	block, err := aes.NewCipher([]byte(testKey))
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		cmd, payload, err := readRequest(conn)
		if err != nil || cmd != cmdDPQuery {
			return
		}
		plain, err := decrypt(block, payload)
		if err != nil {
			return
		}
		var req map[string]string
		if json.Unmarshal(plain, &req) != nil || req["devId"] != "dev1" {
			return
		}

		for _, r := range replies(block) {
			conn.Write(r)
		}
	}()

	return ln.Addr().String()
}

func Test_Status(t *testing.T) {
	addr := fakeLock(t, func(block cipher.Block) [][]byte {
		body := encrypt(block, []byte(`{"devId":"dev1","dps":{"1":false,"8":63},"t":1700000000}`))
		payload := append([]byte("3.3"), make([]byte, 12)...)
		payload = append(payload, body...)
		return [][]byte{
			encodeReply(1, 0x09, 0, nil),
			encodeReply(1, cmdDPQuery, 0, payload),
		}
	})

	d, err := NewDevice("dev1", addr, testKey)
	require.NoError(t, err)
	d.Timeout = 2 * time.Second

	dps, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, false, dps["1"])
	assert.Equal(t, json.Number("63"), dps["8"])
}

func Test_StatusWithoutVersionHeader(t *testing.T) {
	addr := fakeLock(t, func(block cipher.Block) [][]byte {
		body := encrypt(block, []byte(`{"dps":{"1":true}}`))
		return [][]byte{encodeReply(1, cmdDPQuery, 0, body)}
	})

	d, err := NewDevice("dev1", addr, testKey)
	require.NoError(t, err)

	dps, err := d.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, dps["1"])
}

func Test_StatusEmptyDPS(t *testing.T) {
	addr := fakeLock(t, func(block cipher.Block) [][]byte {
		return [][]byte{encodeReply(1, cmdDPQuery, 0, encrypt(block, []byte(`{"dps":{}}`)))}
	})

	d, err := NewDevice("dev1", addr, testKey)
	require.NoError(t, err)

	_, err = d.Status(context.Background())
	assert.ErrorIs(t, err, ErrNoDPS)
}

func Test_StatusUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	d, err := NewDevice("dev1", addr, testKey)
	require.NoError(t, err)
	d.Timeout = 500 * time.Millisecond

	_, err = d.Status(context.Background())
	assert.Error(t, err)
}
