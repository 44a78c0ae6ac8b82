package pcapreader

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/pcapreplay/types"
)

// ErrFileOpen is returned when a capture path cannot be opened or its header
// cannot be decoded.
var ErrFileOpen = errors.New("cannot open capture")

const (
	FormatPcap   = "pcap"
	FormatPcapNG = "pcapng"
)

// Frame is one raw link-layer record with its capture timestamp.
type Frame struct {
	Data      []byte
	Timestamp types.Timestamp
	LinkType  layers.LinkType
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

type handle struct {
	path   string
	file   *os.File
	src    packetSource
	format string
}

func (h *handle) close() {
	if h == nil || h.file == nil {
		return
	}
	h.file.Close()
	h.file = nil
}

func detectFormat(path string) (format string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	// Read first 4 bytes to check magic
	header := make([]byte, 4)
	n, err := io.ReadFull(file, header)
	if err != nil || n < 4 {
		return FormatPcap, nil
	}

	// pcapng starts with a Section Header Block (0x0A0D0D0A)
	magic := uint32(header[0]) | uint32(header[1])<<8 | uint32(header[2])<<16 | uint32(header[3])<<24
	if magic == 0x0A0D0D0A {
		return FormatPcapNG, nil
	}

	return FormatPcap, nil
}

func openHandle(path string) (*handle, error) {
	format, err := detectFormat(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileOpen, path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrFileOpen, path, err)
	}

	var src packetSource
	if format == FormatPcapNG {
		src, err = pcapgo.NewNgReader(file, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(file)
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w %s: %w", ErrFileOpen, path, err)
	}

	return &handle{path: path, file: file, src: src, format: format}, nil
}

// Reader iterates the frames of an ordered list of capture files. Only the
// head of the list is read; Advance rotates it.
type Reader struct {
	handles  []*handle
	rotation types.Rotation
	closed   bool
}

// Open opens every capture up front so an unreadable path fails construction.
func Open(paths []string, rotation types.Rotation) (*Reader, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no capture files given", ErrFileOpen)
	}

	r := &Reader{rotation: rotation}
	for _, p := range paths {
		h, err := openHandle(p)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.handles = append(r.handles, h)
	}
	return r, nil
}

// Next returns the next frame of the active capture. ok is false once the
// capture is exhausted.
func (r *Reader) Next() (frame Frame, ok bool, err error) {
	if r.closed {
		return Frame{}, false, nil
	}

	h := r.handles[0]
	data, ci, err := h.src.ReadPacketData()
	if err != nil {
		// A capture cut short mid-record is common when the writer was killed.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, false, nil
		}
		return Frame{}, false, fmt.Errorf("read %s: %w", h.path, err)
	}

	return Frame{
		Data:      data,
		Timestamp: types.TimestampFromTime(ci.Timestamp),
		LinkType:  h.src.LinkType(),
	}, true, nil
}

// Advance closes the active capture and reopens its path. With round-robin
// rotation the reopened capture moves to the back of the list and the next
// one becomes active; with rewind it stays at the head.
func (r *Reader) Advance() error {
	if r.closed {
		return fmt.Errorf("%w: reader closed", ErrFileOpen)
	}

	head := r.handles[0]
	head.close()

	h, err := openHandle(head.path)
	if err != nil {
		return err
	}

	if r.rotation == types.RotateRewind {
		r.handles[0] = h
		return nil
	}

	r.handles = append(r.handles[1:], h)
	return nil
}

// Path returns the path of the active capture.
func (r *Reader) Path() string {
	if len(r.handles) == 0 {
		return ""
	}
	return r.handles[0].path
}

func (r *Reader) Paths() []string {
	paths := make([]string, 0, len(r.handles))
	for _, h := range r.handles {
		paths = append(paths, h.path)
	}
	return paths
}

func (r *Reader) Close() {
	if r == nil || r.closed {
		return
	}
	r.closed = true
	for _, h := range r.handles {
		h.close()
	}
}

// Summary describes a capture file without keeping it open.
type Summary struct {
	Path     string
	Format   string
	LinkType layers.LinkType
	Frames   int
	First    time.Time
	Last     time.Time
}

func (s Summary) Duration() time.Duration {
	if s.Frames < 2 {
		return 0
	}
	return s.Last.Sub(s.First)
}

// Inspect walks a capture once and reports its frame count and time span.
func Inspect(path string) (*Summary, error) {
	h, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	defer h.close()

	s := &Summary{Path: path, Format: h.format, LinkType: h.src.LinkType()}
	for {
		_, ci, err := h.src.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return s, fmt.Errorf("read %s: %w", path, err)
		}
		if s.Frames == 0 {
			s.First = ci.Timestamp
		}
		s.Last = ci.Timestamp
		s.Frames++
	}
	return s, nil
}
