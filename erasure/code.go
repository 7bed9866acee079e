// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package erasure

// Code is a pure, deterministic mapping from one aligned chunk of every
// data block in a stripe to the matching chunk of every parity block.
//
// EncodeBulk is handed len(data) == DataCount() input buffers and
// len(parity) == ParityCount() output buffers, all of the same length. It
// must fill the parity buffers completely and must not retain either slice
// set past the call.
type Code interface {
	EncodeBulk(data, parity [][]byte) error

	// DataCount is the number of data blocks per stripe.
	DataCount() int
	// ParityCount is the number of parity blocks per stripe.
	ParityCount() int
}

// checkBuffers validates the shape of an EncodeBulk call.
func checkBuffers(data, parity [][]byte, dataCount, parityCount int) error {
	if len(data) != dataCount {
		return Error.New("expected %d data buffers, got %d", dataCount, len(data))
	}
	if len(parity) != parityCount {
		return Error.New("expected %d parity buffers, got %d", parityCount, len(parity))
	}
	size := len(data[0])
	for _, buf := range data[1:] {
		if len(buf) != size {
			return Error.New("data buffers differ in size: %d != %d", len(buf), size)
		}
	}
	for _, buf := range parity {
		if len(buf) != size {
			return Error.New("parity buffer size %d does not match data size %d", len(buf), size)
		}
	}
	return nil
}
