// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vm implements the puzzle bytecode virtual machine: eight 32-bit
// registers, a 1 GiB lazily-paged linear memory, and a ten-opcode
// instruction-indexed ISA with a hard cycle budget. It is used exclusively
// to gate decryption of encrypted signals (proof-of-work puzzles); it has
// no knowledge of signals, keys, or the chain.
package vm

import (
	"encoding/binary"
	"errors"
)

// Errors returned by decode and Execute.
var (
	ErrInvalidOpcode      = errors.New("vm: invalid opcode")
	ErrInvalidRegister    = errors.New("vm: invalid register")
	ErrInvalidProgram     = errors.New("vm: invalid program")
	ErrMemoryOutOfBounds  = errors.New("vm: memory access out of bounds")
	ErrPcOutOfBounds      = errors.New("vm: pc out of bounds")
)

// NumRegisters is the fixed register-file size.
const NumRegisters = 8

// MemorySize is the full addressable memory size: 1 GiB.
const MemorySize = 1 << 30

// pageSize is the granularity at which memory is lazily allocated.
const pageSize = 1 << 16 // 64 KiB

// Opcode identifies one of the ten ISA instructions.
type Opcode byte

const (
	OpSet Opcode = iota
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpXor
	OpJmp
	OpJmpEq
	OpJmpNe
	OpHalt
)

// instSize gives the encoded byte length of each opcode, including the
// leading opcode byte.
var instSize = map[Opcode]int{
	OpSet:   6,
	OpLoad:  6,
	OpStore: 6,
	OpAdd:   4,
	OpSub:   4,
	OpXor:   4,
	OpJmp:   5,
	OpJmpEq: 7,
	OpJmpNe: 7,
	OpHalt:  1,
}

// instruction is one decoded ISA instruction. Not every field is used by
// every opcode; unused fields are zero.
type instruction struct {
	op         Opcode
	r1, r2, r3 byte
	imm        uint32
	addr       uint32
	target     uint32
}

// VM executes puzzle bytecode. A single instance may be reused across
// Execute calls from one dedicated goroutine/worker thread; state is
// cleared at the start of every call so concurrent reuse from multiple
// goroutines without external synchronization is not supported.
type VM struct {
	registers [NumRegisters]uint32
	pages     map[uint32][]byte
}

// New creates a VM instance with lazily-allocated memory.
func New() *VM {
	return &VM{pages: make(map[uint32][]byte)}
}

// Output is the 32-byte result of an Execute call: registers 0..7,
// big-endian, concatenated.
type Output [32]byte

// Execute decodes and runs bytecode against a freshly-zeroed VM state,
// stopping after at most cycleBudget instructions. Reaching the budget is
// not an error: Execute returns whatever is in the registers at that
// point. Memory never persists across calls.
func (v *VM) Execute(bytecode []byte, cycleBudget uint64) (Output, error) {
	v.reset()

	program, err := decode(bytecode)
	if err != nil {
		return Output{}, err
	}

	var pc uint32
	var cycles uint64
	for cycles < cycleBudget {
		if int(pc) >= len(program) {
			// Falling off the end of the program (including an empty
			// program) is normal termination, not a bad jump: return
			// whatever is in the registers. Only an explicit jump whose
			// target is out of bounds is ErrPcOutOfBounds.
			return v.output(), nil
		}
		inst := program[pc]
		cycles++

		switch inst.op {
		case OpSet:
			v.registers[inst.r1] = inst.imm
			pc++
		case OpLoad:
			val, err := v.load(inst.addr)
			if err != nil {
				return Output{}, err
			}
			v.registers[inst.r1] = val
			pc++
		case OpStore:
			if err := v.store(inst.addr, v.registers[inst.r1]); err != nil {
				return Output{}, err
			}
			pc++
		case OpAdd:
			v.registers[inst.r1] = v.registers[inst.r2] + v.registers[inst.r3]
			pc++
		case OpSub:
			v.registers[inst.r1] = v.registers[inst.r2] - v.registers[inst.r3]
			pc++
		case OpXor:
			v.registers[inst.r1] = v.registers[inst.r2] ^ v.registers[inst.r3]
			pc++
		case OpJmp:
			if inst.target >= uint32(len(program)) {
				return Output{}, ErrPcOutOfBounds
			}
			pc = inst.target
		case OpJmpEq:
			if v.registers[inst.r1] == v.registers[inst.r2] {
				if inst.target >= uint32(len(program)) {
					return Output{}, ErrPcOutOfBounds
				}
				pc = inst.target
			} else {
				pc++
			}
		case OpJmpNe:
			if v.registers[inst.r1] != v.registers[inst.r2] {
				if inst.target >= uint32(len(program)) {
					return Output{}, ErrPcOutOfBounds
				}
				pc = inst.target
			} else {
				pc++
			}
		case OpHalt:
			return v.output(), nil
		default:
			// decode() never produces an unrecognized opcode; reaching
			// this means a bug in decode, not untrusted input.
			return Output{}, ErrInvalidOpcode
		}
	}

	return v.output(), nil
}

func (v *VM) reset() {
	v.registers = [NumRegisters]uint32{}
	v.pages = make(map[uint32][]byte)
}

func (v *VM) output() Output {
	var out Output
	for i, r := range v.registers {
		binary.BigEndian.PutUint32(out[i*4:i*4+4], r)
	}
	return out
}

// page returns the page backing addr, allocating and zeroing it on first
// touch. addr must already be validated to fall within MemorySize.
func (v *VM) page(addr uint32) []byte {
	pageNum := addr / pageSize
	p, ok := v.pages[pageNum]
	if !ok {
		p = make([]byte, pageSize)
		v.pages[pageNum] = p
	}
	return p
}

func (v *VM) load(addr uint32) (uint32, error) {
	if uint64(addr)+4 > MemorySize {
		return 0, ErrMemoryOutOfBounds
	}
	off := addr % pageSize
	if off+4 > pageSize {
		// straddles a page boundary; read byte-by-byte across pages
		var buf [4]byte
		for i := 0; i < 4; i++ {
			a := addr + uint32(i)
			buf[i] = v.page(a)[a%pageSize]
		}
		return binary.BigEndian.Uint32(buf[:]), nil
	}
	return binary.BigEndian.Uint32(v.page(addr)[off : off+4]), nil
}

func (v *VM) store(addr uint32, val uint32) error {
	if uint64(addr)+4 > MemorySize {
		return ErrMemoryOutOfBounds
	}
	off := addr % pageSize
	if off+4 > pageSize {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], val)
		for i := 0; i < 4; i++ {
			a := addr + uint32(i)
			v.page(a)[a%pageSize] = buf[i]
		}
		return nil
	}
	binary.BigEndian.PutUint32(v.page(addr)[off:off+4], val)
	return nil
}

func validRegister(r byte) error {
	if int(r) >= NumRegisters {
		return ErrInvalidRegister
	}
	return nil
}

// decode parses bytecode into a sequence of instructions. It validates
// register operands and opcode bytes, but not jump targets: Execute
// checks a target against the decoded program length when the jump is
// taken.
func decode(bytecode []byte) ([]instruction, error) {
	var program []instruction
	i := 0
	for i < len(bytecode) {
		op := Opcode(bytecode[i])
		size, ok := instSize[op]
		if !ok {
			return nil, ErrInvalidOpcode
		}
		if i+size > len(bytecode) {
			return nil, ErrInvalidProgram
		}
		body := bytecode[i+1 : i+size]

		inst := instruction{op: op}
		switch op {
		case OpSet:
			inst.r1 = body[0]
			inst.imm = binary.BigEndian.Uint32(body[1:5])
			if err := validRegister(inst.r1); err != nil {
				return nil, err
			}
		case OpLoad:
			inst.r1 = body[0]
			inst.addr = binary.BigEndian.Uint32(body[1:5])
			if err := validRegister(inst.r1); err != nil {
				return nil, err
			}
		case OpStore:
			inst.r1 = body[0]
			inst.addr = binary.BigEndian.Uint32(body[1:5])
			if err := validRegister(inst.r1); err != nil {
				return nil, err
			}
		case OpAdd, OpSub, OpXor:
			inst.r1, inst.r2, inst.r3 = body[0], body[1], body[2]
			if err := validRegister(inst.r1); err != nil {
				return nil, err
			}
			if err := validRegister(inst.r2); err != nil {
				return nil, err
			}
			if err := validRegister(inst.r3); err != nil {
				return nil, err
			}
		case OpJmp:
			inst.target = binary.BigEndian.Uint32(body[0:4])
		case OpJmpEq, OpJmpNe:
			inst.r1, inst.r2 = body[0], body[1]
			inst.target = binary.BigEndian.Uint32(body[2:6])
			if err := validRegister(inst.r1); err != nil {
				return nil, err
			}
			if err := validRegister(inst.r2); err != nil {
				return nil, err
			}
		case OpHalt:
			// no operands
		}

		program = append(program, inst)
		i += size
	}

	return program, nil
}
