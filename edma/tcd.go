package edma

import "tdmstream.io/regs"

// TCD is the register image of a transfer control descriptor: eight
// little-endian 32-bit words, 32 bytes per channel.
type TCD [8]uint32

const (
	wSADDR = iota
	wSOFF_ATTR
	wNBYTES
	wSLAST
	wDADDR
	wDOFF_CITER
	wDLASTSGA
	wCSR_BITER
)

var (
	// ATTR, upper half of word 1. The modulo fields are left zero.
	fSSIZE = regs.Field{Pos: 16 + 8, Width: 3}
	fDSIZE = regs.Field{Pos: 16 + 0, Width: 3}

	fSOFF = regs.Field{Pos: 0, Width: 16}
	fDOFF = regs.Field{Pos: 0, Width: 16}

	// NBYTES with minor loop mapping enabled.
	fSMLOE       = regs.Bit(31)
	fDMLOE       = regs.Bit(30)
	fMLOFF       = regs.Field{Pos: 10, Width: minorOffsetBits}
	fNBYTESYes   = regs.Field{Pos: 0, Width: 10}
	fNBYTESNo    = regs.Field{Pos: 0, Width: 30}
	fCITER       = regs.Field{Pos: 16, Width: 15}
	fBITER       = regs.Field{Pos: 16, Width: 15}
	fMAJORLINKCH = regs.Field{Pos: 8, Width: 4}

	// CSR, lower half of word 7.
	csrSTART      = regs.Bit(0)
	csrINTMAJOR   = regs.Bit(1)
	csrDREQ       = regs.Bit(3)
	csrMAJORELINK = regs.Bit(5)
	csrACTIVE     = regs.Bit(6)
	csrDONE       = regs.Bit(7)
)

// Encode packs d into its register image.
func Encode(d Descriptor) TCD {
	var t TCD
	ssize, _ := d.SrcSize.code()
	dsize, _ := d.DstSize.code()
	t[wSADDR] = d.SrcAddr
	t[wSOFF_ATTR] = fSOFF.Put(uint32(uint16(d.SrcStride))) | fSSIZE.Put(ssize) | fDSIZE.Put(dsize)
	if d.SrcMinorOffset {
		t[wNBYTES] = fSMLOE | fMLOFF.Put(uint32(d.MinorOffset)) | fNBYTESYes.Put(d.MinorBytes)
	} else {
		t[wNBYTES] = fNBYTESNo.Put(d.MinorBytes)
	}
	t[wSLAST] = uint32(d.SrcLast)
	t[wDADDR] = d.DstAddr
	t[wDOFF_CITER] = fDOFF.Put(uint32(uint16(d.DstStride))) | fCITER.Put(uint32(d.MajorCount))
	t[wDLASTSGA] = uint32(d.DstLast)
	csr := uint32(0)
	if d.IntMajor {
		csr |= csrINTMAJOR
	}
	if d.AutoDisable {
		csr |= csrDREQ
	}
	if d.Link {
		csr |= csrMAJORELINK | fMAJORLINKCH.Put(uint32(d.LinkChannel))
	}
	if d.Active {
		csr |= csrACTIVE
	}
	if d.Done {
		csr |= csrDONE
	}
	t[wCSR_BITER] = csr | fBITER.Put(uint32(d.MajorStart))
	return t
}

// Decode unpacks a register image. Fields without a Descriptor
// counterpart, such as address modulo and destination minor loop
// offsets, are ignored.
func Decode(t TCD) Descriptor {
	nbytes := t[wNBYTES]
	d := Descriptor{
		SrcAddr:    t[wSADDR],
		SrcStride:  int16(fSOFF.Get(t[wSOFF_ATTR])),
		SrcSize:    sizeFromCode(fSSIZE.Get(t[wSOFF_ATTR])),
		DstAddr:    t[wDADDR],
		DstStride:  int16(fDOFF.Get(t[wDOFF_CITER])),
		DstSize:    sizeFromCode(fDSIZE.Get(t[wSOFF_ATTR])),
		MajorCount: uint16(fCITER.Get(t[wDOFF_CITER])),
		MajorStart: uint16(fBITER.Get(t[wCSR_BITER])),
		SrcLast:    int32(t[wSLAST]),
		DstLast:    int32(t[wDLASTSGA]),
	}
	if nbytes&(fSMLOE|fDMLOE) != 0 {
		d.MinorBytes = fNBYTESYes.Get(nbytes)
		if nbytes&fSMLOE != 0 {
			d.SrcMinorOffset = true
			// Sign extend.
			d.MinorOffset = int32(fMLOFF.Get(nbytes)<<(32-minorOffsetBits)) >> (32 - minorOffsetBits)
		}
	} else {
		d.MinorBytes = fNBYTESNo.Get(nbytes)
	}
	csr := t[wCSR_BITER]
	d.IntMajor = csr&csrINTMAJOR != 0
	d.AutoDisable = csr&csrDREQ != 0
	d.Link = csr&csrMAJORELINK != 0
	if d.Link {
		d.LinkChannel = uint8(fMAJORLINKCH.Get(csr))
	}
	d.Active = csr&csrACTIVE != 0
	d.Done = csr&csrDONE != 0
	return d
}
