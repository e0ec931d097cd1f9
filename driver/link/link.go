// Package link carries register accesses over a serial line, so the
// drivers can run on a host against a board that runs [Serve].
//
// Requests and responses are CBOR maps with small integer keys.
package link

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"tdmstream.io/regs"
)

const (
	opRead  = 1
	opWrite = 2
)

type request struct {
	Op    uint8  `cbor:"1,keyasint"`
	Addr  uint32 `cbor:"2,keyasint"`
	Value uint32 `cbor:"3,keyasint,omitempty"`
}

type response struct {
	Value uint32 `cbor:"1,keyasint,omitempty"`
	Err   string `cbor:"2,keyasint,omitempty"`
	Fault bool   `cbor:"3,keyasint,omitempty"`
}

// ErrRemote wraps errors reported by the far end.
var ErrRemote = errors.New("link: remote error")

// Port is a register port on the far end of a link. It is safe for
// concurrent use.
type Port struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	dec *cbor.Decoder
}

func NewPort(rw io.ReadWriter) *Port {
	return &Port{
		enc: cbor.NewEncoder(rw),
		dec: cbor.NewDecoder(rw),
	}
}

func (p *Port) roundTrip(req request) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(req); err != nil {
		return 0, fmt.Errorf("link: send: %w", err)
	}
	var resp response
	if err := p.dec.Decode(&resp); err != nil {
		return 0, fmt.Errorf("link: receive: %w", err)
	}
	switch {
	case resp.Fault:
		return 0, fmt.Errorf("link: %s: %w", resp.Err, regs.ErrFault)
	case resp.Err != "":
		return 0, fmt.Errorf("%w: %s", ErrRemote, resp.Err)
	}
	return resp.Value, nil
}

func (p *Port) Read(a regs.Addr) (uint32, error) {
	return p.roundTrip(request{Op: opRead, Addr: uint32(a)})
}

func (p *Port) Write(a regs.Addr, v uint32) error {
	_, err := p.roundTrip(request{Op: opWrite, Addr: uint32(a), Value: v})
	return err
}

// Serve answers requests from rw with accesses to p until rw is
// closed.
func Serve(rw io.ReadWriter, p regs.Port) error {
	dec := cbor.NewDecoder(rw)
	enc := cbor.NewEncoder(rw)
	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("link: receive: %w", err)
		}
		var resp response
		var err error
		switch req.Op {
		case opRead:
			resp.Value, err = p.Read(regs.Addr(req.Addr))
		case opWrite:
			err = p.Write(regs.Addr(req.Addr), req.Value)
		default:
			err = fmt.Errorf("unknown operation %d", req.Op)
		}
		if err != nil {
			resp.Err = err.Error()
			resp.Fault = errors.Is(err, regs.ErrFault)
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("link: send: %w", err)
		}
	}
}
