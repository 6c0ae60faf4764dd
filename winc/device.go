package winc

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	ProgrammerBaudRate = 115200
)

// USB-serial bridges commonly found on WINC programmer boards.
var VidPidTable = map[string]string{
	// FTDI
	"VID:PID=0403:6001": "FTDI FT232R bridge",
	"VID:PID=0403:6015": "FTDI FT231X bridge",
	// Silicon Labs
	"VID:PID=10C4:EA60": "Silabs CP210x bridge",
	// WCH
	"VID:PID=1A86:7523": "WCH CH340 bridge",
	// Microchip (SAM E54 Xplained EDBG virtual com)
	"VID:PID=03EB:2111": "Atmel EDBG console",
	"VID:PID=03EB:2157": "Atmel EDBG console",
}

// What can be known about a candidate port without opening it.
type BasicDeviceInfo struct {
	VidPid  string
	Port    string
	Product string
	Board   string
}

func (d *BasicDeviceInfo) SmallString() string {
	return fmt.Sprintf("%s(%s)", d.Port, d.Board)
}

// Scan the system's serial ports for boards that look like a WINC
// programmer, based on the VID/PID table.
func GetBasicDevices() ([]BasicDeviceInfo, error) {
	result := make([]BasicDeviceInfo, 0)
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	for _, port := range ports {
		if !port.IsUSB {
			continue
		}
		vidpid := fmt.Sprintf("VID:PID=%s:%s", strings.ToUpper(port.VID), strings.ToUpper(port.PID))
		board, ok := VidPidTable[vidpid]
		if !ok {
			continue
		}
		result = append(result, BasicDeviceInfo{
			VidPid:  vidpid,
			Port:    port.Name,
			Product: port.Product,
			Board:   board,
		})
	}
	return result, nil
}

// Open a serial connection to the given programmer port. Use "any" to
// take the first device the scan turns up.
func ConnectProgrammer(device string) (io.ReadWriteCloser, *BasicDeviceInfo, error) {
	var info *BasicDeviceInfo
	if device == "" || device == "any" {
		devices, err := GetBasicDevices()
		if err != nil {
			return nil, nil, err
		}
		if len(devices) == 0 {
			return nil, nil, fmt.Errorf("No programmer devices found!")
		}
		info = &devices[0]
	} else {
		info = &BasicDeviceInfo{Port: device, Board: "unknown"}
		devices, err := GetBasicDevices()
		if err == nil {
			for i := range devices {
				if devices[i].Port == device {
					info = &devices[i]
					break
				}
			}
		}
	}
	mode := &serial.Mode{BaudRate: ProgrammerBaudRate}
	sercon, err := serial.Open(info.Port, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("could not open %s: %w", info.Port, err)
	}
	return sercon, info, nil
}

// Deeper info pulled from a connected programmer: puts the chip in
// programming mode and queries its flash geometry and trim data.
type ExtendedDeviceInfo struct {
	Basic        *BasicDeviceInfo
	FlashSizeMb  uint32
	FlashSize    uint32
	TotalSectors uint32
	Efuse        *EfuseBank
}

func QueryDevice(info *BasicDeviceInfo, conn io.ReadWriter) (*ExtendedDeviceInfo, error) {
	transport := NewSerialProgrammer(conn)
	if err := transport.EnterProgrammingMode(); err != nil {
		return nil, fmt.Errorf("could not enter programming mode on %s: %w", info.Port, err)
	}
	mb, err := transport.FlashSizeMb()
	if err != nil {
		return nil, fmt.Errorf("could not query flash size on %s: %w", info.Port, err)
	}
	extended := ExtendedDeviceInfo{
		Basic:        info,
		FlashSizeMb:  mb,
		FlashSize:    mb << 17,
		TotalSectors: SectorCount(mb << 17),
	}
	// Trim data is informational here; a chip with a blank bank is
	// still usable for extract/update/compare.
	bank, err := ReadTrimData(transport)
	if err == nil {
		extended.Efuse = bank
	}
	return &extended, nil
}
