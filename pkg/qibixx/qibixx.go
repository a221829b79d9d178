// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package qibixx implements the line-oriented ASCII protocol spoken by the
// Qibixx MDB-HAT USB interface in split mode.
//
// The interface multiplexes two MDB roles over one serial line, tagged by
// prefix: "c," lines belong to the cashless-slave side (facing the VMC),
// "d," lines to the cashless-master side (facing the Nayax reader). Sniffer
// output uses "x," and version responses "v,". Commands are uppercase
// single-letter prefixes ("C,1", "D,REQ,1.50,7", "X,0", "V") terminated
// with CRLF.
package qibixx

import (
	"strings"
)

// LineTerminator is appended to every outbound command. The MDB-HAT firmware
// requires CRLF; bare LF is silently ignored by some revisions.
const LineTerminator = "\r\n"

// Source identifies which logical device emitted a status line.
type Source int

const (
	SourceUnknown Source = iota
	SourceVMC            // "c," - cashless slave side
	SourceNayax          // "d," - cashless master side
	SourceSniffer        // "x," - passive sniffer output
	SourceVersion        // "v," - firmware version response
)

// String returns a short human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceVMC:
		return "vmc"
	case SourceNayax:
		return "nayax"
	case SourceSniffer:
		return "sniffer"
	case SourceVersion:
		return "version"
	default:
		return "unknown"
	}
}

// Line is a single parsed protocol line. It is immutable and transient:
// produced per received line, consumed by one state-machine step.
type Line struct {
	Source Source
	Raw    string
	Fields []string
}

// Parse classifies a raw line into a Line. It returns nil for empty lines
// and for lines that do not carry a recognized source prefix; bus noise is
// expected on a shared line and must not surface as an error.
func Parse(raw string) *Line {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	fields := strings.Split(raw, ",")
	src := SourceUnknown
	switch fields[0] {
	case "c", "C":
		src = SourceVMC
	case "d", "D":
		src = SourceNayax
	case "x", "X":
		src = SourceSniffer
	case "v", "V":
		src = SourceVersion
	default:
		return nil
	}

	return &Line{Source: src, Raw: raw, Fields: fields}
}

// Command rebuilds the wire command string from the parsed fields.
// For any well-formed command line, Serialize(l.Command()) is byte-identical
// to the originally transmitted bytes.
func (l *Line) Command() string {
	return strings.Join(l.Fields, ",")
}

// Serialize converts a command string to transmit-ready bytes, appending the
// required line terminator.
func Serialize(cmd string) []byte {
	return []byte(cmd + LineTerminator)
}

// Clean decodes received bytes into a trimmed string, replacing invalid
// UTF-8 sequences instead of failing. The shared bus produces occasional
// garbage bytes during role switches.
func Clean(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), "�"))
}
