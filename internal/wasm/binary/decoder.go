package binary

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tetratelabs/stitch/internal/wasm"
)

// DecodeModule implements the WebAssembly 1.0 (20191205) Binary Format, plus the encodings of the enabled features.
//
// memoryLimitPages is the most pages a memory may start with. Errors are *wasm.DecodeError. The returned module is
// not validated: see wasm.Module Validate.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format%E2%91%A0
func DecodeModule(binary []byte, features wasm.Features, memoryLimitPages uint32) (*wasm.Module, error) {
	r := newReader(binary)
	m, err := decodeModule(r, features, memoryLimitPages)
	if err != nil {
		offset := r.offset()
		var oe *offsetError
		if errors.As(err, &oe) {
			offset = oe.offset
		}
		return nil, &wasm.DecodeError{Offset: offset, Err: err}
	}
	return m, nil
}

func decodeModule(r *reader, features wasm.Features, memoryLimitPages uint32) (*wasm.Module, error) {
	if b, err := r.take(4); err != nil || !bytes.Equal(b, Magic) {
		return nil, &offsetError{offset: 0, err: ErrInvalidMagicNumber}
	}
	if b, err := r.take(4); err != nil || !bytes.Equal(b, version) {
		return nil, &offsetError{offset: 4, err: ErrInvalidVersion}
	}

	m := &wasm.Module{}
	var last int // order of the last non-custom section
	for r.remaining() > 0 {
		sectionID, err := r.readByte()
		if err != nil {
			return nil, err
		}
		sectionSize, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("get size of section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		s, err := r.sub(sectionSize)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}

		if sectionID == wasm.SectionIDCustom {
			if err = decodeCustomSection(s, m); err != nil {
				return nil, fmt.Errorf("section custom: %w", err)
			}
			continue
		}

		order := sectionOrder(sectionID)
		if order == 0 {
			return nil, s.errorf("invalid section id: %#x", sectionID)
		}
		if order <= last {
			return nil, s.errorf("unexpected section %s: sections must occur at most once and in order", wasm.SectionIDName(sectionID))
		}
		last = order

		if err = decodeSection(s, m, sectionID, features, memoryLimitPages); err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
		if err = s.ensureEnd("section"); err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(sectionID), err)
		}
	}

	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, r.errorf("function and code section have inconsistent lengths: %d != %d", len(m.FunctionSection), len(m.CodeSection))
	}
	return m, nil
}

// sectionOrder is the canonical position of a non-custom section, or zero for an unknown ID.
func sectionOrder(id wasm.SectionID) int {
	switch id {
	case wasm.SectionIDDataCount:
		return int(wasm.SectionIDElement) + 1
	case wasm.SectionIDCode, wasm.SectionIDData:
		return int(id) + 1
	}
	if id >= wasm.SectionIDType && id <= wasm.SectionIDElement {
		return int(id)
	}
	return 0
}

func decodeSection(r *reader, m *wasm.Module, id wasm.SectionID, features wasm.Features, memoryLimitPages uint32) (err error) {
	switch id {
	case wasm.SectionIDType:
		_, err = r.readVec(func(i uint32) error {
			ft, err := decodeFunctionType(r, features)
			if err != nil {
				return fmt.Errorf("type[%d]: %w", i, err)
			}
			m.TypeSection = append(m.TypeSection, ft)
			return nil
		})
	case wasm.SectionIDImport:
		_, err = r.readVec(func(i uint32) error {
			im, err := decodeImport(r, features, memoryLimitPages)
			if err != nil {
				return fmt.Errorf("import[%d]: %w", i, err)
			}
			m.ImportSection = append(m.ImportSection, im)
			return nil
		})
	case wasm.SectionIDFunction:
		_, err = r.readVec(func(i uint32) error {
			typeIdx, err := r.readU32()
			if err != nil {
				return fmt.Errorf("get type index of function[%d]: %w", i, err)
			}
			m.FunctionSection = append(m.FunctionSection, typeIdx)
			return nil
		})
	case wasm.SectionIDTable:
		_, err = r.readVec(func(i uint32) error {
			t, err := decodeTableType(r, features)
			if err != nil {
				return fmt.Errorf("table[%d]: %w", i, err)
			}
			m.TableSection = append(m.TableSection, t)
			return nil
		})
	case wasm.SectionIDMemory:
		_, err = r.readVec(func(i uint32) error {
			mem, err := decodeMemoryType(r, memoryLimitPages)
			if err != nil {
				return fmt.Errorf("memory[%d]: %w", i, err)
			}
			m.MemorySection = append(m.MemorySection, mem)
			return nil
		})
	case wasm.SectionIDGlobal:
		_, err = r.readVec(func(i uint32) error {
			g, err := decodeGlobal(r, features)
			if err != nil {
				return fmt.Errorf("global[%d]: %w", i, err)
			}
			m.GlobalSection = append(m.GlobalSection, g)
			return nil
		})
	case wasm.SectionIDExport:
		_, err = r.readVec(func(i uint32) error {
			e, err := decodeExport(r)
			if err != nil {
				return fmt.Errorf("export[%d]: %w", i, err)
			}
			m.ExportSection = append(m.ExportSection, e)
			return nil
		})
	case wasm.SectionIDStart:
		var idx wasm.Index
		if idx, err = r.readU32(); err != nil {
			return fmt.Errorf("get function index: %w", err)
		}
		m.StartSection = &idx
	case wasm.SectionIDElement:
		_, err = r.readVec(func(i uint32) error {
			e, err := decodeElementSegment(r, features)
			if err != nil {
				return fmt.Errorf("element[%d]: %w", i, err)
			}
			m.ElementSection = append(m.ElementSection, e)
			return nil
		})
	case wasm.SectionIDDataCount:
		if err = features.Require(wasm.FeatureBulkMemoryOperations); err != nil {
			return r.errorf("data count section not supported as %w", err)
		}
		var count uint32
		if count, err = r.readU32(); err != nil {
			return fmt.Errorf("get data count: %w", err)
		}
		m.DataCountSection = &count
	case wasm.SectionIDCode:
		_, err = r.readVec(func(i uint32) error {
			c, err := decodeCode(r, features)
			if err != nil {
				return fmt.Errorf("code[%d]: %w", i, err)
			}
			m.CodeSection = append(m.CodeSection, c)
			return nil
		})
	case wasm.SectionIDData:
		_, err = r.readVec(func(i uint32) error {
			d, err := decodeDataSegment(r, features)
			if err != nil {
				return fmt.Errorf("data[%d]: %w", i, err)
			}
			m.DataSection = append(m.DataSection, d)
			return nil
		})
	}
	return
}

// decodeCustomSection decodes the name section, the only custom section read. Others are skipped.
func decodeCustomSection(r *reader, m *wasm.Module) error {
	name, err := r.readName()
	if err != nil {
		return err
	}
	if name != "name" || m.NameSection != nil {
		return nil
	}
	if ns, err := decodeNameSection(r); err == nil {
		m.NameSection = ns
	}
	r.pos = r.end
	return nil
}
