package tuyalocal

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultPort    = "6668"
	defaultTimeout = 5 * time.Second

	prefix uint32 = 0x000055AA
	suffix uint32 = 0x0000AA55

	cmdStatus  uint32 = 0x08
	cmdDPQuery uint32 = 0x0a

	version       = "3.3"
	versionHeader = 15
	headerLen     = 16
	maxFrameLen   = 1 << 16
	maxReads      = 3
)

var (
	ErrBadFrame   = errors.New("malformed tuya frame")
	ErrBadKey     = errors.New("local key must be 16 bytes")
	ErrNoDPS      = errors.New("device reply carried no dps")
	ErrBadPadding = errors.New("invalid pkcs7 padding")
)

// Device talks protocol 3.3 to one lock on the LAN.
type Device struct {
	ID      string
	Address string
	Timeout time.Duration

	block cipher.Block
	mu    sync.Mutex
	seq   uint32
}

func NewDevice(id, address, localKey string) (*Device, error) {
	if len(localKey) != aes.BlockSize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher([]byte(localKey))
	if err != nil {
		return nil, fmt.Errorf("creating aes cipher: %w", err)
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, DefaultPort)
	}

	return &Device{
		ID:      id,
		Address: address,
		Timeout: defaultTimeout,
		block:   block,
	}, nil
}

// Status queries the device and returns its dps map keyed by DP index.
func (d *Device) Status(ctx context.Context) (map[string]interface{}, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", d.Address, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	req, err := d.queryFrame()
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("writing dp query: %w", err)
	}

	for i := 0; i < maxReads; i++ {
		f, err := readFrame(conn)
		if err != nil {
			return nil, err
		}
		if f.cmd != cmdDPQuery && f.cmd != cmdStatus {
			continue
		}
		if len(f.payload) == 0 {
			continue
		}
		return d.decodeDPS(f.payload)
	}
	return nil, ErrNoDPS
}

func (d *Device) nextSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

func (d *Device) queryFrame() ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"gwId":  d.ID,
		"devId": d.ID,
		"uid":   d.ID,
		"t":     strconv.FormatInt(time.Now().Unix(), 10),
	})
	if err != nil {
		return nil, err
	}
	return encodeFrame(d.nextSeq(), cmdDPQuery, encrypt(d.block, body)), nil
}

func (d *Device) decodeDPS(payload []byte) (map[string]interface{}, error) {
	if bytes.HasPrefix(payload, []byte(version)) && len(payload) >= versionHeader {
		payload = payload[versionHeader:]
	}

	plain, err := decrypt(d.block, payload)
	if err != nil {
		return nil, err
	}

	var msg struct {
		DPS map[string]interface{} `json:"dps"`
	}
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("decoding dps: %w", err)
	}
	if len(msg.DPS) == 0 {
		return nil, ErrNoDPS
	}
	return msg.DPS, nil
}

type frame struct {
	seq     uint32
	cmd     uint32
	retcode uint32
	payload []byte
}

// encodeFrame builds a client to device frame; those carry no return code.
func encodeFrame(seq, cmd uint32, payload []byte) []byte {
	buf := make([]byte, 0, headerLen+len(payload)+8)
	buf = binary.BigEndian.AppendUint32(buf, prefix)
	buf = binary.BigEndian.AppendUint32(buf, seq)
	buf = binary.BigEndian.AppendUint32(buf, cmd)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)+8))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
	buf = binary.BigEndian.AppendUint32(buf, suffix)
	return buf
}

// readFrame reads one device to client frame, which has a return code after
// the length field.
func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, fmt.Errorf("reading frame header: %w", err)
	}
	if binary.BigEndian.Uint32(header[0:4]) != prefix {
		return frame{}, ErrBadFrame
	}

	length := binary.BigEndian.Uint32(header[12:16])
	if length < 12 || length > maxFrameLen {
		return frame{}, ErrBadFrame
	}

	rest := make([]byte, length)
	if _, err := io.ReadFull(r, rest); err != nil {
		return frame{}, fmt.Errorf("reading frame body: %w", err)
	}

	n := len(rest)
	if binary.BigEndian.Uint32(rest[n-4:]) != suffix {
		return frame{}, ErrBadFrame
	}
	sum := crc32.ChecksumIEEE(append(header, rest[:n-8]...))
	if binary.BigEndian.Uint32(rest[n-8:n-4]) != sum {
		return frame{}, fmt.Errorf("%w: crc mismatch", ErrBadFrame)
	}

	return frame{
		seq:     binary.BigEndian.Uint32(header[4:8]),
		cmd:     binary.BigEndian.Uint32(header[8:12]),
		retcode: binary.BigEndian.Uint32(rest[0:4]),
		payload: rest[4 : n-8],
	}, nil
}

// encrypt is AES-128-ECB with PKCS7 padding, the cipher mode the 3.3
// firmware expects.
func encrypt(block cipher.Block, plain []byte) []byte {
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	data := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}
	return out
}

func decrypt(block cipher.Block, data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrBadFrame, len(data))
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
	}

	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, ErrBadPadding
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, ErrBadPadding
		}
	}
	return out[:len(out)-pad], nil
}
