// Package wasmtest provides small precompiled guest modules for exercising
// the I2C host functions against a real wazero runtime.
package wasmtest

// ProxyGuest forwards each I2C host function through an export of the same
// arity, so tests can drive the host functions with arbitrary arguments:
//
//	(module
//	  (import "i2c" "open" (func $open (result i32)))
//	  (import "i2c" "write" (func $write (param i32 i32 i32 i32) (result i32)))
//	  (import "i2c" "read" (func $read (param i32 i32 i64 i32) (result i32)))
//	  (memory (export "memory") 1)
//	  (func (export "call_open") (result i32) call $open)
//	  (func (export "call_write") (param i32 i32 i32 i32) (result i32)
//	    local.get 0 local.get 1 local.get 2 local.get 3 call $write)
//	  (func (export "call_read") (param i32 i32 i64 i32) (result i32)
//	    local.get 0 local.get 1 local.get 2 local.get 3 call $read))
var ProxyGuest = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x18, 0x04, 0x60,
	0x00, 0x01, 0x7f, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60,
	0x04, 0x7f, 0x7f, 0x7e, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x00, 0x02, 0x23,
	0x03, 0x03, 0x69, 0x32, 0x63, 0x04, 0x6f, 0x70, 0x65, 0x6e, 0x00, 0x00,
	0x03, 0x69, 0x32, 0x63, 0x05, 0x77, 0x72, 0x69, 0x74, 0x65, 0x00, 0x01,
	0x03, 0x69, 0x32, 0x63, 0x04, 0x72, 0x65, 0x61, 0x64, 0x00, 0x02, 0x03,
	0x04, 0x03, 0x00, 0x01, 0x02, 0x05, 0x03, 0x01, 0x00, 0x01, 0x07, 0x2f,
	0x04, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x09, 0x63,
	0x61, 0x6c, 0x6c, 0x5f, 0x6f, 0x70, 0x65, 0x6e, 0x00, 0x03, 0x0a, 0x63,
	0x61, 0x6c, 0x6c, 0x5f, 0x77, 0x72, 0x69, 0x74, 0x65, 0x00, 0x04, 0x09,
	0x63, 0x61, 0x6c, 0x6c, 0x5f, 0x72, 0x65, 0x61, 0x64, 0x00, 0x05, 0x0a,
	0x20, 0x03, 0x04, 0x00, 0x10, 0x00, 0x0b, 0x0c, 0x00, 0x20, 0x00, 0x20,
	0x01, 0x20, 0x02, 0x20, 0x03, 0x10, 0x01, 0x0b, 0x0c, 0x00, 0x20, 0x00,
	0x20, 0x01, 0x20, 0x02, 0x20, 0x03, 0x10, 0x02, 0x0b,
}

// Proxy export names.
const (
	ExportCallOpen  = "call_open"
	ExportCallWrite = "call_write"
	ExportCallRead  = "call_read"
)

// AppGuest is a complete guest application. Its _start acquires a handle,
// writes the 4 bytes at offset 0 (de ad be ef) to device 0x50 and reads 3
// bytes from it into offset 16. The handle and both outcome codes are
// stored as little-endian i32 at HandleOffset, WriteCodeOffset and
// ReadCodeOffset:
//
//	(module
//	  (import "i2c" "open" ...) (import "i2c" "write" ...) (import "i2c" "read" ...)
//	  (memory (export "memory") 1)
//	  (data (i32.const 0) "\de\ad\be\ef")
//	  (func (export "_start") (local $h i32)
//	    call $open local.set $h
//	    (i32.store (i32.const 32) (local.get $h))
//	    (i32.store (i32.const 36) (call $write (local.get $h) (i32.const 0x50) (i32.const 4) (i32.const 0)))
//	    (i32.store (i32.const 40) (call $read (local.get $h) (i32.const 0x50) (i64.const 3) (i32.const 16)))))
var AppGuest = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x18, 0x04, 0x60,
	0x00, 0x01, 0x7f, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60,
	0x04, 0x7f, 0x7f, 0x7e, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x00, 0x02, 0x23,
	0x03, 0x03, 0x69, 0x32, 0x63, 0x04, 0x6f, 0x70, 0x65, 0x6e, 0x00, 0x00,
	0x03, 0x69, 0x32, 0x63, 0x05, 0x77, 0x72, 0x69, 0x74, 0x65, 0x00, 0x01,
	0x03, 0x69, 0x32, 0x63, 0x04, 0x72, 0x65, 0x61, 0x64, 0x00, 0x02, 0x03,
	0x02, 0x01, 0x03, 0x05, 0x03, 0x01, 0x00, 0x01, 0x07, 0x13, 0x02, 0x06,
	0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x06, 0x5f, 0x73, 0x74,
	0x61, 0x72, 0x74, 0x00, 0x03, 0x0a, 0x31, 0x01, 0x2f, 0x01, 0x01, 0x7f,
	0x10, 0x00, 0x21, 0x00, 0x41, 0x20, 0x20, 0x00, 0x36, 0x02, 0x00, 0x41,
	0x24, 0x20, 0x00, 0x41, 0xd0, 0x00, 0x41, 0x04, 0x41, 0x00, 0x10, 0x01,
	0x36, 0x02, 0x00, 0x41, 0x28, 0x20, 0x00, 0x41, 0xd0, 0x00, 0x42, 0x03,
	0x41, 0x10, 0x10, 0x02, 0x36, 0x02, 0x00, 0x0b, 0x0b, 0x0a, 0x01, 0x00,
	0x41, 0x00, 0x0b, 0x04, 0xde, 0xad, 0xbe, 0xef,
}

// AppGuest memory layout.
const (
	AppDeviceAddr   = 0x50
	AppWriteOffset  = 0
	AppReadOffset   = 16
	HandleOffset    = 32
	WriteCodeOffset = 36
	ReadCodeOffset  = 40
)

// AppWritePayload is the data segment AppGuest writes to the device.
var AppWritePayload = []byte{0xde, 0xad, 0xbe, 0xef}

// SpinGuest never returns from _start:
//
//	(module (func (export "_start") (loop br 0)))
var SpinGuest = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x04, 0x01, 0x60,
	0x00, 0x00, 0x03, 0x02, 0x01, 0x00, 0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73,
	0x74, 0x61, 0x72, 0x74, 0x00, 0x00, 0x0a, 0x09, 0x01, 0x07, 0x00, 0x03,
	0x40, 0x0c, 0x00, 0x0b, 0x0b,
}
