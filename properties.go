/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vxm

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"goarrg.com/debug"
)

type UUID [16]byte

func (uuid *UUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%04X-%012X", uuid[:4], uuid[4:6], uuid[6:8], uuid[8:10], uuid[10:])
}

func (uuid *UUID) UnmarshalText(data []byte) error {
	if len(data) != 36 || data[8] != '-' || data[13] != '-' || data[18] != '-' || data[23] != '-' {
		return debug.Errorf("Invalid UUID format")
	}
	var filteredData []byte
	for i, b := range data {
		switch i {
		case 8, 13, 18, 23:
			continue
		}
		filteredData = append(filteredData, b)
	}
	_, err := hex.Decode(uuid[:], filteredData)
	return err
}

type VendorID uint32

const (
	VendorAMD    VendorID = 0x1002
	VendorNVIDIA VendorID = 0x10de
	VendorIntel  VendorID = 0x8086
)

func (id VendorID) String() string {
	switch id {
	case VendorAMD:
		return "AMD"
	case VendorNVIDIA:
		return "NVIDIA"
	case VendorIntel:
		return "Intel"
	default:
		return fmt.Sprintf("Unknown: 0x%04X", uint32(id))
	}
}

// Properties describes the media engines behind a Hardware implementation.
type Properties struct {
	UUID     UUID
	VendorID VendorID
	DeviceID uint32
	Name     string
	// NumEngines is the number of independent engines, each engine is one queue.
	NumEngines          uint8
	TimestampFrequency  uint64
	SFCSupported        bool
	SlimEngineSupported bool
}

func (p *Properties) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"UUID\": %q,", p.UUID.String()))
	buff.WriteString(fmt.Sprintf("\"VendorID\": %q,", p.VendorID.String()))
	buff.WriteString(fmt.Sprintf("\"DeviceID\": %q,", toHex(p.DeviceID)))
	buff.WriteString(fmt.Sprintf("\"Name\": %q,", p.Name))
	buff.WriteString(fmt.Sprintf("\"NumEngines\": %d,", p.NumEngines))
	buff.WriteString(fmt.Sprintf("\"TimestampFrequency\": %d,", p.TimestampFrequency))
	buff.WriteString(fmt.Sprintf("\"SFCSupported\": %t,", p.SFCSupported))
	buff.WriteString(fmt.Sprintf("\"SlimEngineSupported\": %t,", p.SlimEngineSupported))

	buff.Truncate(buff.Len() - 1)
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (p *Properties) validate() {
	if p.NumEngines == 0 {
		abort("Hardware reports no engines")
	}
	if p.TimestampFrequency == 0 {
		abort("Hardware reports a timestamp frequency of 0")
	}
}
