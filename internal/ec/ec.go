// Package ec implements direct embedded-controller register access and the
// EC profile dump feature. Register I/O goes through the Linux
// ec_sys debugfs interface (/sys/kernel/debug/ec/ec0/io), a flat byte-array
// file that supports Seek+Read+Write -- no pack library wraps this narrow
// kernel interface, so this package uses only os.File (DESIGN.md stdlib
// justification: no example repo or ecosystem library targets EC debugfs
// register I/O).
package ec

import (
	"errors"
	"fmt"
	"os"
)

var (
	ErrNotFound           = errors.New("NotFound: EC debugfs interface not present")
	ErrRegisterOutOfRange = errors.New("Validation: register out of range")
)

// DebugfsRoot is the parent of every ec* debugfs directory. A var so tests
// can redirect it at a fixture tree.
var DebugfsRoot = "/sys/kernel/debug/ec"

// Chip identifies one EC debugfs instance (normally just "ec0").
type Chip struct {
	Name string // e.g. "ec0"
	Path string // DebugfsRoot/Name/io
}

// ListChips enumerates every ecN/io file under DebugfsRoot.
func ListChips() ([]Chip, error) {
	entries, err := os.ReadDir(DebugfsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var chips []Chip
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		ioPath := DebugfsRoot + "/" + ent.Name() + "/io"
		if _, err := os.Stat(ioPath); err != nil {
			continue
		}
		chips = append(chips, Chip{Name: ent.Name(), Path: ioPath})
	}
	return chips, nil
}

// ReadRegister reads a single byte at the given offset from the chip's io
// file (spec §6 "ReadEcRegister{chip_path,register:0..=255}").
func ReadRegister(chipPath string, register uint8) (byte, error) {
	vals, err := ReadRegisterRange(chipPath, register, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// ReadRegisterRange reads count bytes starting at startRegister (spec §6
// "ReadEcRegisterRange{...count:1..=256}").
func ReadRegisterRange(chipPath string, startRegister uint8, count int) ([]byte, error) {
	if count < 1 || count > 256 || int(startRegister)+count > 256 {
		return nil, ErrRegisterOutOfRange
	}
	f, err := os.Open(chipPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(int64(startRegister), 0); err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	if _, err := f.Read(buf); err != nil {
		return nil, fmt.Errorf("read EC register range: %w", err)
	}
	return buf, nil
}

// WriteRegister writes a single byte at the given offset (spec §6
// "WriteEcRegister{chip_path, register, value} -- gated on advanced-flag
// acknowledgement"; the acknowledgement gate itself lives in the IPC
// handler, not here -- this function performs the write unconditionally
// once the caller has already confirmed the gate).
func WriteRegister(chipPath string, register uint8, value byte) error {
	f, err := os.OpenFile(chipPath, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		if os.IsPermission(err) {
			return fmt.Errorf("Permission: %w", err)
		}
		return err
	}
	defer f.Close()

	if _, err := f.Seek(int64(register), 0); err != nil {
		return err
	}
	if _, err := f.Write([]byte{value}); err != nil {
		return fmt.Errorf("write EC register: %w", err)
	}
	return nil
}
