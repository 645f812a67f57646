package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrDecode indicates a record could not be decoded from the wire. It
// is also returned by EncodeMessage for a service name too long to
// encode.
var ErrDecode = errors.New("wire: decode error")

// maxServiceNameLen bounds the length prefix on SockMessage.Service so
// a corrupt or hostile peer cannot force an unbounded allocation.
const maxServiceNameLen = 4096

// EncodeMessage writes a SockMessage request: a 4-byte big-endian
// length prefix, the UTF-8 service name, then one command byte.
func EncodeMessage(w io.Writer, msg SockMessage) error {
	name := []byte(msg.Service)
	if len(name) > maxServiceNameLen {
		return fmt.Errorf("%w: service name too long (%d bytes)", ErrDecode, len(name))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(name)))

	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(name); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(msg.Command)}); err != nil {
		return err
	}
	return nil
}

// DecodeMessage reads a SockMessage request in the format EncodeMessage writes.
func DecodeMessage(r io.Reader) (SockMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return SockMessage{}, fmt.Errorf("%w: reading length prefix: %v", ErrDecode, err)
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxServiceNameLen {
		return SockMessage{}, fmt.Errorf("%w: service name too long (%d bytes)", ErrDecode, n)
	}

	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return SockMessage{}, fmt.Errorf("%w: reading service name: %v", ErrDecode, err)
	}

	var cmdBuf [1]byte
	if _, err := io.ReadFull(r, cmdBuf[:]); err != nil {
		return SockMessage{}, fmt.Errorf("%w: reading command byte: %v", ErrDecode, err)
	}

	cmd := ServiceCommand(cmdBuf[0])
	if cmd > CommandStatus {
		return SockMessage{}, fmt.Errorf("%w: unknown command tag %d", ErrDecode, cmdBuf[0])
	}

	return SockMessage{Service: string(name), Command: cmd}, nil
}

// Status record layout on the wire:
//
//	byte 0:      tag (StateTag)
//	bytes 1-4:   PID, big-endian uint32        (StatusRunning only, else 0)
//	byte 5:      ExitStatus.Kind               (StatusCrashed only, else 0)
//	byte 6:      ExitStatus.Code               (StatusCrashed + ExitCode only)
//	bytes 7-10:  ExitStatus.Signal, big-endian int32 (StatusCrashed + ExitSignal only)
const statusRecordSize = 11

// EncodeStatus writes a ServiceStatus response in the fixed 11-byte layout above.
func EncodeStatus(w io.Writer, st ServiceStatus) error {
	var buf [statusRecordSize]byte
	buf[0] = byte(st.Tag)

	switch st.Tag {
	case StatusRunning:
		binary.BigEndian.PutUint32(buf[1:5], st.PID)
	case StatusCrashed:
		buf[5] = byte(st.Exit.Kind)
		buf[6] = st.Exit.Code
		binary.BigEndian.PutUint32(buf[7:11], uint32(st.Exit.Signal))
	}

	_, err := w.Write(buf[:])
	return err
}

// DecodeStatus reads a ServiceStatus response in the format EncodeStatus writes.
func DecodeStatus(r io.Reader) (ServiceStatus, error) {
	var buf [statusRecordSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ServiceStatus{}, fmt.Errorf("%w: reading status record: %v", ErrDecode, err)
	}

	tag := StateTag(buf[0])
	if tag > StatusNotFound {
		return ServiceStatus{}, fmt.Errorf("%w: unknown status tag %d", ErrDecode, buf[0])
	}

	st := ServiceStatus{Tag: tag}
	switch tag {
	case StatusRunning:
		st.PID = binary.BigEndian.Uint32(buf[1:5])
	case StatusCrashed:
		st.Exit.Kind = ExitKind(buf[5])
		st.Exit.Code = buf[6]
		st.Exit.Signal = int32(binary.BigEndian.Uint32(buf[7:11]))
	}

	return st, nil
}
