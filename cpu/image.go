// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/adrv/internal/regs"
)

const imageChunk = 4096

// ImageWrite writes a chunk of a firmware image to the program memory
// of the provided core, at offset bytes from the start of the image.
//
// The first chunk of an image holds the initial stack pointer and the
// boot address of the core. Images of core C also hold the locations of
// the device and ADC profiles.
func (dev *Device) ImageWrite(core Core, offset uint32, p []byte) error {
	switch {
	case offset%4 != 0:
		return fmt.Errorf("cpu: image offset %d not 32b aligned: %w", offset, ErrInvalidParam)
	case len(p)%4 != 0:
		return fmt.Errorf("cpu: image chunk size %d not a multiple of 4: %w", len(p), ErrInvalidParam)
	case offset == 0 && len(p) < 8:
		return fmt.Errorf("cpu: first image chunk too short (%d < 8): %w", len(p), ErrInvalidParam)
	}

	m, err := dev.resolve(core, false)
	if err != nil {
		return err
	}
	if uint64(m.ProgStart)+uint64(offset)+uint64(len(p)) > uint64(m.ProgEnd)+1 {
		return fmt.Errorf("cpu: image chunk [%d, %d) does not fit program memory of core %v: %w",
			offset, int(offset)+len(p), core, ErrInvalidParam,
		)
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	if offset == 0 {
		err = dev.hal.WriteRegs(m.StackPtr, p[0:4])
		if err != nil {
			return fmt.Errorf("cpu: could not write stack pointer of core %v: %w", core, err)
		}
		err = dev.hal.WriteRegs(m.Boot, p[4:8])
		if err != nil {
			return fmt.Errorf("cpu: could not write boot address of core %v: %w", core, err)
		}
	}

	var prof struct{ dev, adc uint32 }
	if core == CoreC {
		prof.dev = imageWord(offset, p, regs.ImageDevProfile)
		prof.adc = imageWord(offset, p, regs.ImageADCProfile)
	}

	err = dev.MemWrite(m.ProgStart+offset, p)
	if err != nil {
		return fmt.Errorf("cpu: could not write image of core %v: %w", core, err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	v := &dev.maps.maps[core]
	if prof.dev != 0 {
		v.DevProfile = prof.dev
	}
	if prof.adc != 0 {
		v.ADCProfile = prof.adc
	}
	dev.maps.markLoaded(core)
	dev.state |= StateImageLoaded
	return nil
}

// imageWord returns the little-endian word at image offset off, if the
// chunk p written at offset holds it.
func imageWord(offset uint32, p []byte, off uint32) uint32 {
	if off < offset || off+4 > offset+uint32(len(p)) {
		return 0
	}
	i := off - offset
	return binary.LittleEndian.Uint32(p[i : i+4])
}

// ImageLoad writes the whole firmware image read from r to the provided core.
func (dev *Device) ImageLoad(core Core, r io.Reader) error {
	var (
		buf    = make([]byte, imageChunk)
		offset uint32
	)
	for {
		n, err := io.ReadFull(r, buf)
		switch {
		case errors.Is(err, io.EOF):
			if offset == 0 {
				return fmt.Errorf("cpu: empty firmware image: %w", ErrInvalidParam)
			}
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			// last chunk.
		case err != nil:
			return fmt.Errorf("cpu: could not read firmware image: %w", err)
		}

		err2 := dev.ImageWrite(core, offset, buf[:n])
		if err2 != nil {
			return err2
		}
		offset += uint32(n)

		if err != nil {
			return nil
		}
	}
}

// WriteProfiles writes the device and ADC profiles at the locations
// advertised by the firmware image of core C.
func (dev *Device) WriteProfiles(devProfile, adcProfile []byte) error {
	m, err := dev.resolve(CoreC, true)
	if err != nil {
		return err
	}

	err = dev.MemWrite(m.DevProfile, devProfile)
	if err != nil {
		return fmt.Errorf("cpu: could not write device profile at 0x%08x: %w", m.DevProfile, err)
	}
	err = dev.MemWrite(m.ADCProfile, adcProfile)
	if err != nil {
		return fmt.Errorf("cpu: could not write ADC profile at 0x%08x: %w", m.ADCProfile, err)
	}
	return nil
}

// Start releases the loaded cores from reset.
func (dev *Device) Start() error {
	_, err := dev.resolve(CoreC, true)
	if err != nil {
		return err
	}

	for _, core := range []Core{CoreC, CoreD} {
		m, err := dev.resolve(core, true)
		if err != nil {
			continue
		}
		err = dev.MemWrite(m.MailboxGet, []byte{0xFF, 0xFF, 0xFF, 0xFF})
		if err != nil {
			return fmt.Errorf("cpu: could not clear mailbox of core %v: %w", core, err)
		}
		err = dev.hal.WriteReg(m.Ctl, regs.CtlDebugEnable|regs.CtlRun)
		if err != nil {
			return fmt.Errorf("cpu: could not start core %v: %w", core, err)
		}
		dev.msg.Printf("core %v: started", core)
	}
	return nil
}

// maxConfig is the size of the payload of a mailbox config command.
const maxConfig = 0xFF

// ConfigWrite writes data to the configuration object objID of the
// provided core, at offset bytes into the object.
func (dev *Device) ConfigWrite(core Core, objID uint8, offset uint16, data []byte) error {
	if len(data) == 0 || len(data) > maxConfig {
		return fmt.Errorf("cpu: invalid config payload size %d: %w", len(data), ErrInvalidParam)
	}
	m, err := dev.resolve(core, true)
	if err != nil {
		return err
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	buf := make([]byte, 1+len(data))
	buf[0] = byte(len(data))
	copy(buf[1:], data)
	err = dev.MemWrite(m.MailboxSet, buf)
	if err != nil {
		return fmt.Errorf("cpu: could not write config mailbox of core %v: %w", core, err)
	}

	ext := cfgExt(objID, offset)
	err = dev.submit(core, &m, OpSet, ext)
	if err != nil {
		return err
	}
	_, err = dev.wait(core, &m, OpSet, objID, dev.cfg.cfg)
	return err
}

// ConfigRead reads len(p) bytes of the configuration object objID of the
// provided core, at offset bytes into the object.
func (dev *Device) ConfigRead(core Core, objID uint8, offset uint16, p []byte) error {
	if len(p) == 0 || len(p) > maxConfig {
		return fmt.Errorf("cpu: invalid config payload size %d: %w", len(p), ErrInvalidParam)
	}
	m, err := dev.resolve(core, true)
	if err != nil {
		return err
	}

	dev.cores[core].Lock()
	defer dev.cores[core].Unlock()

	err = dev.MemWrite(m.MailboxGet, []byte{byte(len(p))})
	if err != nil {
		return fmt.Errorf("cpu: could not write config mailbox of core %v: %w", core, err)
	}

	err = dev.submit(core, &m, OpGet, cfgExt(objID, offset))
	if err != nil {
		return err
	}
	_, err = dev.wait(core, &m, OpGet, objID, dev.cfg.cfg)
	if err != nil {
		return err
	}

	err = dev.MemRead(m.MailboxGet, p)
	if err != nil {
		return fmt.Errorf("cpu: could not read config mailbox of core %v: %w", core, err)
	}
	return nil
}

func cfgExt(objID uint8, offset uint16) []byte {
	return []byte{regs.ObjIDConfig, objID, byte(offset), byte(offset >> 8)}
}

// BuildType is the flavor of a firmware build.
type BuildType uint8

const (
	BuildRelease BuildType = iota
	BuildDebug
	BuildTestObject
)

func (b BuildType) String() string {
	switch b {
	case BuildRelease:
		return "release"
	case BuildDebug:
		return "debug"
	case BuildTestObject:
		return "test-object"
	}
	return fmt.Sprintf("BuildType(%d)", uint8(b))
}

// FwVersion is the version of a core firmware.
type FwVersion struct {
	Major uint32
	Minor uint32
	Maint uint32
	RC    uint32
	Build BuildType
}

func (v FwVersion) String() string {
	return fmt.Sprintf("%d.%d.%d.%d (%v)", v.Major, v.Minor, v.Maint, v.RC, v.Build)
}

// decodeVersion decodes the 8 version bytes of a firmware.
func decodeVersion(p []byte) FwVersion {
	var (
		w = binary.LittleEndian.Uint32(p[0:4])
		v FwVersion
	)
	if p[5]&0x01 == 1 {
		v.Major = (w >> 28) & 0x0F
		v.Minor = (w >> 24) & 0x0F
		v.Maint = (w >> 16) & 0xFF
		v.RC = w & 0xFFFF
	} else {
		v.RC = w % 100
		v.Minor = (w / 100) % 100
		v.Major = w / 10000
	}

	switch {
	case p[4]&0x01 != 0:
		v.Build = BuildDebug
	case p[4]&0x04 != 0:
		v.Build = BuildTestObject
	default:
		v.Build = BuildRelease
	}
	return v
}

// FwVersion reads the version of the firmware running on the provided core.
func (dev *Device) FwVersion(core Core) (FwVersion, error) {
	if !dev.State().Has(StateLoaded) {
		return FwVersion{}, fmt.Errorf("cpu: firmware of core %v not booted: %w", core, ErrImageNotLoaded)
	}
	m, err := dev.resolve(core, true)
	if err != nil {
		return FwVersion{}, err
	}

	var buf [8]byte
	err = dev.MemRead(m.Version, buf[:])
	if err != nil {
		return FwVersion{}, fmt.Errorf("cpu: could not read firmware version of core %v: %w", core, err)
	}
	return decodeVersion(buf[:]), nil
}
