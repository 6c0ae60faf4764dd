package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"

	"github.com/klatu/wincgotools/winc"
)

const (
	AppVersion = "0.3.0"
)

// Quick way to fail on error, since most commands are "doing" something on
// behalf of something else.
func fatalIfErr(subject string, doing string, err error) {
	if err != nil {
		log.Fatalf("%s - Couldn't %s: %s", subject, doing, err)
	}
}

func connectProgrammer(device string) (io.ReadWriteCloser, *winc.BasicDeviceInfo) {
	sercon, d, err := winc.ConnectProgrammer(device)
	fatalIfErr(device, "connect", err)
	log.Printf("Initial contact with %s\n", d.SmallString())
	return sercon, d
}

func makeCloner(conn io.ReadWriter) *winc.Cloner {
	return winc.NewCloner(winc.NewSerialProgrammer(conn), &winc.MarkProgress{Writer: os.Stdout})
}

func forceOpen(fp string) (*os.File, os.FileInfo) {
	f, err := os.Open(fp)
	fatalIfErr(fp, "open read file", err)
	fi, err := f.Stat()
	fatalIfErr(fp, "stat read file", err)
	return f, fi
}

func forceCreate(fp string) *os.File {
	f, err := os.Create(fp)
	fatalIfErr(fp, "create write file", err)
	return f
}

// **********************************
// *       DEVICES COMMANDS         *
// **********************************

// Scan command
type ScanCmd struct {
}

func (c *ScanCmd) Run() error {
	devices, err := winc.GetBasicDevices()
	fatalIfErr("scan", "pull devices", err)
	log.Printf("Scan found %d viable devices\n", len(devices))
	PrintJson(devices)
	return nil
}

// Query command
type QueryCmd struct {
	Device string `arg:"" default:"any" help:"The system device to check (use 'any' for first)"`
}

func (c *QueryCmd) Run() error {
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	extdata, err := winc.QueryDevice(d, sercon)
	fatalIfErr(c.Device, "query device information", err)
	log.Printf("Device %s has %d megabit flash (%d sectors)\n",
		d.SmallString(), extdata.FlashSizeMb, extdata.TotalSectors)
	PrintJson(extdata)
	return nil
}

// **********************************
// *        FLASH COMMANDS          *
// **********************************

// Flash extract command (whole flash)
type FlashExtractCmd struct {
	Device  string `arg:"" default:"any" help:"The system device to read from (use 'any' for first)"`
	Outfile string `type:"path" short:"o"`
}

func (c *FlashExtractCmd) Run() error {
	// Figure out save location
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("winc_flash_%s.bin", FileSafeDateTime())
	}
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	cloner := makeCloner(sercon)
	err := cloner.Extract(c.Outfile)
	fmt.Println()
	fatalIfErr(c.Device, "extract flash", err)
	log.Printf("Read %d bytes from %s into %s\n", cloner.FlashSize(), d.SmallString(), c.Outfile)
	raw, err := os.ReadFile(c.Outfile)
	fatalIfErr(c.Outfile, "re-read extracted image", err)
	// Return data about the save
	result := make(map[string]interface{})
	result["Filename"] = c.Outfile
	result["Length"] = len(raw)
	result["Sectors"] = winc.SectorCount(uint32(len(raw)))
	result["MD5"] = winc.Md5String(raw)
	PrintJson(result)
	return nil
}

// Flash update command (sector-by-sector, calibration preserved)
type FlashUpdateCmd struct {
	Device string `arg:"" default:"any" help:"The system device to write to (use 'any' for first)"`
	Infile string `type:"existingfile" default:"winc_flash.bin" short:"i"`
}

func (c *FlashUpdateCmd) Run() error {
	file, fi := forceOpen(c.Infile)
	file.Close()
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	cloner := makeCloner(sercon)
	err := cloner.Update(c.Infile)
	fmt.Println()
	fatalIfErr(c.Device, "update flash", err)
	log.Printf("Updated flash on %s from %s (%d byte image)\n",
		d.SmallString(), c.Infile, fi.Size())
	// Return data about the write
	result := make(map[string]interface{})
	result["Filename"] = c.Infile
	result["ImageLength"] = fi.Size()
	result["FlashLength"] = cloner.FlashSize()
	PrintJson(result)
	return nil
}

// Flash compare command (read-only)
type FlashCompareCmd struct {
	Device string `arg:"" default:"any" help:"The system device to check (use 'any' for first)"`
	Infile string `type:"existingfile" default:"winc_flash.bin" short:"i"`
}

func (c *FlashCompareCmd) Run() error {
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	cloner := makeCloner(sercon)
	identical, err := cloner.Compare(c.Infile)
	fmt.Println()
	fatalIfErr(c.Device, "compare flash", err)
	if identical {
		log.Printf("Flash on %s matches %s\n", d.SmallString(), c.Infile)
	} else {
		log.Printf("Flash on %s DIFFERS from %s\n", d.SmallString(), c.Infile)
	}
	result := make(map[string]interface{})
	result["Filename"] = c.Infile
	result["FlashLength"] = cloner.FlashSize()
	result["Identical"] = identical
	PrintJson(result)
	if !identical {
		os.Exit(1)
	}
	return nil
}

// **********************************
// *     CALIBRATION COMMANDS       *
// **********************************

// Cal rebuild command
type CalRebuildCmd struct {
	Device string `arg:"" default:"any" help:"The system device to rebuild (use 'any' for first)"`
}

func (c *CalRebuildCmd) Run() error {
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	cloner := makeCloner(sercon)
	changed, err := cloner.RebuildCalibration()
	fmt.Println()
	fatalIfErr(c.Device, "rebuild calibration", err)
	if changed {
		log.Printf("Rewrote calibration sector on %s\n", d.SmallString())
	} else {
		log.Printf("Calibration on %s already current\n", d.SmallString())
	}
	result := make(map[string]interface{})
	result["Device"] = d.Port
	result["Changed"] = changed
	PrintJson(result)
	return nil
}

// Cal build command: compute a table offline from a given trim offset
type CalBuildCmd struct {
	FreqOffset uint16 `arg:"" help:"Raw 15-bit trim frequency offset to build the table from"`
	Outfile    string `type:"path" short:"o"`
}

func (c *CalBuildCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("pll_table_%s.bin", FileSafeDateTime())
	}
	if c.FreqOffset > 0x7FFF {
		log.Fatalf("Frequency offset out of range: %d", c.FreqOffset)
	}
	table := winc.BuildPllTable(c.FreqOffset)
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	_, err := dest.Write(table)
	fatalIfErr(c.Outfile, "write table", err)
	log.Printf("Wrote %d byte PLL table to %s\n", len(table), c.Outfile)
	result := make(map[string]interface{})
	result["Outfile"] = c.Outfile
	result["FreqOffset"] = c.FreqOffset
	result["Length"] = len(table)
	result["MD5"] = winc.Md5String(table)
	PrintJson(result)
	return nil
}

// Cal show command: decode a table from a flash image or raw table file
type CalShowCmd struct {
	Infile string `arg:"" type:"existingfile" help:"Flash image or raw PLL table file to decode"`
}

func (c *CalShowCmd) Run() error {
	raw, err := os.ReadFile(c.Infile)
	fatalIfErr(c.Infile, "read file", err)
	// Full flash images carry the table inside the calibration region;
	// anything shorter is treated as a bare table dump.
	if len(raw) > winc.CalRegionOffset+winc.PllTableSize {
		raw = raw[winc.CalRegionOffset+winc.CalTableOffset:]
	}
	table, err := winc.ParsePllTable(raw)
	fatalIfErr(c.Infile, "parse PLL table", err)
	log.Printf("Decoded PLL table from %s (trim offset %d)\n", c.Infile, table.FreqOffset)
	PrintJson(table)
	return nil
}

// Trim read command
type TrimReadCmd struct {
	Device string `arg:"" default:"any" help:"The system device to read from (use 'any' for first)"`
}

func (c *TrimReadCmd) Run() error {
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	transport := winc.NewSerialProgrammer(sercon)
	err := transport.EnterProgrammingMode()
	fatalIfErr(c.Device, "enter programming mode", err)
	bank, err := winc.ReadTrimData(transport)
	fatalIfErr(c.Device, "read trim data", err)
	log.Printf("Read trim bank %d from %s\n", bank.BankIdx, d.SmallString())
	PrintJson(bank)
	return nil
}

// **********************************
// *        IMAGE COMMANDS          *
// **********************************

// Image list command: find candidate firmware images in a folder
type ImageListCmd struct {
	Dir string `arg:"" default:"." type:"existingdir" help:"Folder to search for firmware images"`
}

func (c *ImageListCmd) Run() error {
	entries, err := os.ReadDir(c.Dir)
	fatalIfErr(c.Dir, "read directory", err)
	type imageInfo struct {
		Name    string
		Length  int64
		Sectors uint32
	}
	result := make([]imageInfo, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".bin" && ext != ".hex" {
			continue
		}
		fi, err := entry.Info()
		fatalIfErr(entry.Name(), "stat image", err)
		result = append(result, imageInfo{
			Name:    entry.Name(),
			Length:  fi.Size(),
			Sectors: winc.SectorCount(uint32(fi.Size())),
		})
	}
	log.Printf("Found %d firmware images in %s\n", len(result), c.Dir)
	PrintJson(result)
	return nil
}

// **********************************
// *       CONVERT COMMANDS         *
// **********************************

type Hex2BinCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"winc_flash.hex" short:"i"`
}

func (c *Hex2BinCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("winc_hex2bin_%s.bin", FileSafeDateTime())
	}
	image, _ := forceOpen(c.Infile)
	defer image.Close()
	bin, err := winc.HexToBin(image)
	fatalIfErr("hex2bin", "convert hex", err)
	log.Printf("Hex real data length is %d\n", len(bin))
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	dest.Write(bin)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Length"] = len(bin)
	result["MD5"] = winc.Md5String(bin)
	PrintJson(result)
	return nil
}

type Bin2HexCmd struct {
	Outfile string `type:"path" short:"o"`
	Infile  string `type:"existingfile" default:"winc_flash.bin" short:"i"`
}

func (c *Bin2HexCmd) Run() error {
	if c.Outfile == "" {
		c.Outfile = fmt.Sprintf("winc_bin2hex_%s.hex", FileSafeDateTime())
	}
	image, err := os.ReadFile(c.Infile)
	fatalIfErr("bin2hex", "read bin file", err)
	dest := forceCreate(c.Outfile)
	defer dest.Close()
	err = winc.BinToHex(image, dest)
	fatalIfErr("bin2hex", "convert bin", err)
	result := make(map[string]interface{})
	result["Infile"] = c.Infile
	result["Outfile"] = c.Outfile
	result["Length"] = len(image)
	result["MD5"] = winc.Md5String(image)
	PrintJson(result)
	return nil
}

// **********************************
// *        SCRIPT COMMANDS         *
// **********************************

// Script run command
type ScriptRunCmd struct {
	Infile  string `arg:"" default:"clone.lua" help:"The clone script to run (default: clone.lua)"`
	Device  string `default:"any" short:"d" help:"The system device to run against (use 'any' for first)"`
	Filedir string `type:"path" short:"f" help:"Folder where script file operations resolve (optional)"`
}

func (c *ScriptRunCmd) Run() error {
	script, err := os.ReadFile(c.Infile)
	fatalIfErr(c.Infile, "read script file", err)
	sercon, d := connectProgrammer(c.Device)
	defer sercon.Close()
	transport := winc.NewSerialProgrammer(sercon)
	sink := &winc.MarkProgress{Writer: os.Stdout}
	logs, err := winc.RunLuaCloneScript(string(script), transport, sink, c.Filedir)
	fmt.Println()
	fatalIfErr(c.Infile, "run clone script", err)
	log.Printf("Finished script %s against %s\n", c.Infile, d.SmallString())
	result := make(map[string]interface{})
	result["Script"] = c.Infile
	result["Device"] = d.Port
	result["Logs"] = logs
	PrintJson(result)
	return nil
}

// **********************************
// *    ALL TOGETHER COMMANDS       *
// **********************************

var cli struct {
	Device struct {
		Scan  ScanCmd  `cmd:"" help:"Search for WINC programmer boards and return basic information on them"`
		Query QueryCmd `cmd:"" help:"Get deeper information about a particular programmer (flash size, trim data)"`
	} `cmd:"" help:"Commands which retrieve information about devices"`
	Flash struct {
		Extract FlashExtractCmd `cmd:"" help:"Read the chip's entire flash, saved as a .bin file"`
		Update  FlashUpdateCmd  `cmd:"" help:"Write an image to flash, rewriting only differing sectors (calibration preserved)"`
		Compare FlashCompareCmd `cmd:"" help:"Compare flash against an image sector by sector (never writes)"`
	} `cmd:"" help:"Commands which transfer whole firmware images to or from the chip"`
	Cal struct {
		Rebuild CalRebuildCmd `cmd:"" help:"Recompute PLL tables from the chip's trim fuses and write them back"`
		Build   CalBuildCmd   `cmd:"" help:"Compute a PLL table offline from a given trim offset"`
		Show    CalShowCmd    `cmd:"" help:"Decode the PLL table inside a flash image or table dump"`
	} `cmd:"" help:"Commands which work on the RF calibration tables"`
	Trim struct {
		Read TrimReadCmd `cmd:"" help:"Read and decode the chip's production trim fuse bank"`
	} `cmd:"" help:"Commands which work on the production efuse data"`
	Image struct {
		List ImageListCmd `cmd:"" help:"List candidate firmware images in a folder"`
	} `cmd:"" help:"Commands which work on firmware image files"`
	Convert struct {
		Hex2Bin Hex2BinCmd `cmd:"" help:"Convert Intel HEX firmware to bin" name:"hex2bin"`
		Bin2Hex Bin2HexCmd `cmd:"" help:"Convert bin firmware to Intel HEX" name:"bin2hex"`
	} `cmd:"" help:"Commands which convert firmware images between formats"`
	Script struct {
		Run ScriptRunCmd `cmd:"" help:"Run a lua clone script against a device"`
	} `cmd:"" help:"Commands for scripted cloning workflows (lua)"`
	Version kong.VersionFlag `help:"Show version information"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("wincgotools"),
		kong.ShortUsageOnError(),
		kong.Description("A set of tools for cloning and calibrating WINC1500 firmware flash"),
		kong.Vars{
			"version": AppVersion,
		},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
