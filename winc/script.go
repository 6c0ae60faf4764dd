package winc

// Lua automation for cloning workflows. Scripts get the four engine
// operations plus a handful of decoding helpers, so a factory
// provisioning run (extract golden image, compare, rebuild calibration)
// can live in one small script file.

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"

	lua "github.com/yuin/gopher-lua"
)

// General tracking for one script run. The cloner carries the session's
// programming mode state, so a failed mode entry sticks for the whole
// script just like it does for the CLI.
type CloneScriptState struct {
	Cloner        *Cloner
	FileDirectory string
	Logs          strings.Builder
}

// Get full path to given file requested by user. The system has a way
// to set the "working directory" for the whole script, that's all.
func (state *CloneScriptState) FilePath(path string) string {
	if state.FileDirectory == "" {
		return path
	}
	return filepath.Join(state.FileDirectory, path)
}

// Add a function to the lua state that tracks our own state too.
func (state *CloneScriptState) AddFunction(name string, f func(*lua.LState, *CloneScriptState) int, L *lua.LState) {
	L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int { return f(L, state) }))
}

func luaLog(L *lua.LState, state *CloneScriptState) int {
	top := L.GetTop()
	parts := make([]string, top)
	for i := 1; i <= top; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	line := strings.Join(parts, "\t")
	state.Logs.WriteString(line)
	state.Logs.WriteString("\n")
	log.Printf("script: %s\n", line)
	return 0
}

func luaExtract(L *lua.LState, state *CloneScriptState) int {
	filename := state.FilePath(L.ToString(1))
	if err := state.Cloner.Extract(filename); err != nil {
		L.RaiseError("Couldn't extract flash to %s: %s", filename, err)
		return 0
	}
	L.Push(lua.LNumber(state.Cloner.FlashSize()))
	return 1
}

func luaUpdate(L *lua.LState, state *CloneScriptState) int {
	filename := state.FilePath(L.ToString(1))
	if err := state.Cloner.Update(filename); err != nil {
		L.RaiseError("Couldn't update flash from %s: %s", filename, err)
		return 0
	}
	return 0
}

func luaCompare(L *lua.LState, state *CloneScriptState) int {
	filename := state.FilePath(L.ToString(1))
	identical, err := state.Cloner.Compare(filename)
	if err != nil {
		L.RaiseError("Couldn't compare flash against %s: %s", filename, err)
		return 0
	}
	L.Push(lua.LBool(identical))
	return 1
}

func luaRebuildCal(L *lua.LState, state *CloneScriptState) int {
	changed, err := state.Cloner.RebuildCalibration()
	if err != nil {
		L.RaiseError("Couldn't rebuild calibration: %s", err)
		return 0
	}
	L.Push(lua.LBool(changed))
	return 1
}

func luaBuildCalTable(L *lua.LState, state *CloneScriptState) int {
	freqOffset := L.ToInt(1)
	if freqOffset < 0 || freqOffset > 0x7FFF {
		L.RaiseError("Frequency offset out of range: %d", freqOffset)
		return 0
	}
	table := BuildPllTable(uint16(freqOffset))
	L.Push(lua.LString(string(table)))
	return 1
}

func luaReadTrim(L *lua.LState, state *CloneScriptState) int {
	bank, err := ReadTrimData(state.Cloner.transport)
	if err != nil {
		L.RaiseError("Couldn't read trim data: %s", err)
		return 0
	}
	var result lua.LTable
	result.RawSetString("freq_offset", lua.LNumber(bank.FreqOffset))
	result.RawSetString("freq_offset_used", lua.LBool(bank.FreqOffsetUsed))
	result.RawSetString("bank_idx", lua.LNumber(bank.BankIdx))
	result.RawSetString("mac", lua.LString(hex.EncodeToString(bank.Mac[:])))
	L.Push(&result)
	return 1
}

// Function for lua scripts that lets you parse hex
func luaHex(L *lua.LState) int {
	hexstring := L.ToString(1)
	raw, err := hex.DecodeString(hexstring)
	if err != nil {
		L.RaiseError("Error decoding hex in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(raw)))
	return 1
}

// Function for lua scripts that lets you parse base64
func luaBase64(L *lua.LState) int {
	b64string := L.ToString(1)
	raw, err := base64.StdEncoding.DecodeString(b64string)
	if err != nil {
		L.RaiseError("Error decoding base64 in lua script: %s", err)
		return 0
	}
	L.Push(lua.LString(string(raw)))
	return 1
}

// Simple function to decode a json string into a lua table.
func luaJson(L *lua.LState) int {
	str := L.ToString(1)
	var value interface{}
	err := json.Unmarshal([]byte(str), &value)
	if err != nil {
		L.RaiseError("Couldn't parse json: %s", err)
		return 0
	}
	L.Push(luaDecodeValue(L, value))
	return 1
}

// Simple function to decode a toml string into a lua table. Image
// manifests ship as toml.
func luaToml(L *lua.LState) int {
	str := L.ToString(1)
	var value interface{}
	err := toml.Unmarshal([]byte(str), &value)
	if err != nil {
		L.RaiseError("Couldn't parse toml: %s", err)
		return 0
	}
	L.Push(luaDecodeValue(L, value))
	return 1
}

// DecodeValue converts the value to a Lua value.
// Taken from https://github.com/layeh/gopher-json
func luaDecodeValue(L *lua.LState, value interface{}) lua.LValue {
	switch converted := value.(type) {
	case bool:
		return lua.LBool(converted)
	case float64:
		return lua.LNumber(converted)
	case int64: // needed for toml
		return lua.LNumber(converted)
	case string:
		return lua.LString(converted)
	case json.Number:
		return lua.LString(converted)
	case []interface{}:
		arr := L.CreateTable(len(converted), 0)
		for _, item := range converted {
			arr.Append(luaDecodeValue(L, item))
		}
		return arr
	case map[string]interface{}:
		tbl := L.CreateTable(0, len(converted))
		for key, item := range converted {
			tbl.RawSetH(lua.LString(key), luaDecodeValue(L, item))
		}
		return tbl
	case nil:
		return lua.LNil
	}
	return lua.LNil
}

// Get basic info about the entries in a directory, in "filesystem" order
func luaListDir(L *lua.LState) int {
	path := L.ToString(1)
	entries, err := os.ReadDir(path)
	if err != nil {
		L.RaiseError("Couldn't read directory: %s", err)
		return 0
	}
	var result lua.LTable
	for i, entry := range entries {
		var entrytable lua.LTable
		name := entry.Name()
		thispath := filepath.Join(path, name)
		fullpath, err := filepath.Abs(thispath)
		if err != nil {
			L.RaiseError("Couldn't get abs path of %s: %s", thispath, err)
			return 0
		}
		entrytable.RawSetString("name", lua.LString(name))
		entrytable.RawSetString("path", lua.LString(fullpath))
		entrytable.RawSetString("is_directory", lua.LBool(entry.IsDir()))
		result.RawSetInt(i+1, &entrytable)
	}
	L.Push(&result)
	return 1
}

// Run a clone script against the given transport. Operations inside the
// script resolve file paths relative to dir, and anything the script
// log()s comes back as the returned string.
func RunLuaCloneScript(script string, transport FlashTransport, sink ProgressSink, dir string) (string, error) {
	state := CloneScriptState{
		Cloner:        NewCloner(transport, sink),
		FileDirectory: dir,
	}

	L := lua.NewState()
	defer L.Close()

	L.SetGlobal("hex", L.NewFunction(luaHex))
	L.SetGlobal("base64", L.NewFunction(luaBase64))
	L.SetGlobal("json", L.NewFunction(luaJson))
	L.SetGlobal("toml", L.NewFunction(luaToml))
	L.SetGlobal("listdir", L.NewFunction(luaListDir))
	state.AddFunction("log", luaLog, L)
	state.AddFunction("extract", luaExtract, L)
	state.AddFunction("update", luaUpdate, L)
	state.AddFunction("compare", luaCompare, L)
	state.AddFunction("rebuild_cal", luaRebuildCal, L)
	state.AddFunction("build_cal_table", luaBuildCalTable, L)
	state.AddFunction("read_trim", luaReadTrim, L)

	if err := L.DoString(script); err != nil {
		return state.Logs.String(), fmt.Errorf("script error: %w", err)
	}
	return state.Logs.String(), nil
}
