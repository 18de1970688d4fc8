// Package serialization reads and writes SafeTensors files.
//
// SafeTensors layout:
//
//	[8 bytes: header_size (uint64 LE)]
//	[header_size bytes: JSON header]
//	[tensor data: raw bytes]
//
// The header maps tensor names to dtype, shape and [start, end) offsets
// relative to the data section, plus an optional "__metadata__" string map.
// Model weights, optimizer moments and cached training features all use
// this format.
package serialization
