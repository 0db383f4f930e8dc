package log

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func init() {
	outputLines = false
	SetUseColors(false)
	clearEnv()
}

func TestTime(t *testing.T) {
	SetShowTime(false)
	SetDebugVisible(1)
	GetStdOut()
	Lvl1("No time")
	assert.True(t, containsStdOut("1 : "))
	SetShowTime(true)
	defer func() { SetShowTime(false) }()
	Lvl1("With time")
	str := GetStdOut()
	if strings.Contains(str, "1 : ") {
		t.Fatal("Didn't get correct string: ", str)
	}
	if strings.Contains(str, " +") {
		t.Fatal("Didn't get correct string: ", str)
	}
	if !strings.Contains(str, "With time") {
		t.Fatal("Didn't get correct string: ", str)
	}
}

func TestFlags(t *testing.T) {
	lvl := DebugVisible()
	time := ShowTime()
	color := UseColors()
	padding := Padding()
	SetDebugVisible(1)

	clearEnv()
	ParseEnv()
	if DebugVisible() != 1 {
		t.Fatal("Debugvisible should be 1")
	}
	if ShowTime() {
		t.Fatal("ShowTime should be false")
	}
	if UseColors() {
		t.Fatal("UseColors should be false")
	}
	if !Padding() {
		t.Fatal("Padding should be true")
	}

	os.Setenv("DEBUG_LVL", "3")
	os.Setenv("DEBUG_TIME", "true")
	os.Setenv("DEBUG_COLOR", "false")
	os.Setenv("DEBUG_PADDING", "false")
	ParseEnv()
	if DebugVisible() != 3 {
		t.Fatal("DebugVisible should be 3")
	}
	if !ShowTime() {
		t.Fatal("ShowTime should be true")
	}
	if UseColors() {
		t.Fatal("UseColors should be false")
	}
	if Padding() {
		t.Fatal("Padding should be false")
	}

	clearEnv()
	SetDebugVisible(lvl)
	SetShowTime(time)
	SetUseColors(color)
	SetPadding(padding)
}

func TestOutputFuncs(t *testing.T) {
	ErrFatal(checkOutput(func() {
		Lvl1("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		LLvl1("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		Print("Testing stdout")
	}, true, false))
	ErrFatal(checkOutput(func() {
		Warn("Testing stdout")
	}, false, true))
	ErrFatal(checkOutput(func() {
		Error("Testing errout")
	}, false, true))
}

func TestMainTestWait(t *testing.T) {
	toOld := flag.Lookup("test.timeout").Value.String()
	lvlOld := DebugVisible()
	defer func() {
		setFlag(toOld)
		SetDebugVisible(lvlOld)
	}()
	SetDebugVisible(1)
	setFlag("0s")
	require.Equal(t, time.Duration(10*time.Minute), interpretWait())
	setFlag("10s")
	require.Equal(t, time.Duration(10*time.Second), interpretWait())
	require.Equal(t, "", GetStdOut())

	MainTestWait = 20 * time.Second
	setFlag("0s")
	require.Equal(t, time.Duration(20*time.Second), interpretWait())
	require.NotEqual(t, "", GetStdErr())
	setFlag("10s")
	require.Equal(t, time.Duration(10*time.Second), interpretWait())
	require.NotEqual(t, "", GetStdErr())
}

func setFlag(t string) {
	timeoutFlagMutex.Lock()
	flag.Lookup("test.timeout").Value.Set(t)
	timeoutFlagMutex.Unlock()
}

func checkOutput(f func(), wantsStd, wantsErr bool) error {
	f()
	stdStr := GetStdOut()
	errStr := GetStdErr()
	if wantsStd {
		if len(stdStr) == 0 {
			return xerrors.New("Stdout was empty")
		}
	} else {
		if len(stdStr) > 0 {
			return xerrors.New("Stdout was full")
		}
	}
	if wantsErr {
		if len(errStr) == 0 {
			return xerrors.New("Stderr was empty")
		}
	} else {
		if len(errStr) > 0 {
			return xerrors.New("Stderr was full")
		}
	}
	return nil
}

func TestLvl2Output(t *testing.T) {
	old := DebugVisible()
	defer SetDebugVisible(old)
	SetDebugVisible(2)
	GetStdOut()
	Lvl1("Level1")
	Lvl2("Level2")
	Lvl3("Level3")
	Lvl4("Level4")
	Lvl5("Level5")
	out := GetStdOut()
	assert.True(t, strings.Contains(out, "Level1"))
	assert.True(t, strings.Contains(out, "Level2"))
	assert.False(t, strings.Contains(out, "Level3"))
}

func TestLvl1Output(t *testing.T) {
	GetStdOut()
	Lvl1("Multiple", "parameters")
	out := GetStdOut()
	assert.True(t, strings.Contains(out, "Multiple parameters"))
}

func TestLLvl1Output(t *testing.T) {
	GetStdOut()
	Lvl1("Lvl output")
	LLvl1("LLvl output")
	Lvlf1("Lvlf output")
	LLvlf1("LLvlf output")
	out := GetStdOut()
	assert.True(t, strings.Contains(out, "Lvl output"))
	assert.True(t, strings.Contains(out, "LLvl output"))
	assert.True(t, strings.Contains(out, "Lvlf output"))
	assert.True(t, strings.Contains(out, "LLvlf output"))
	assert.True(t, strings.Contains(out, "1!:"))
}

func thisIsAVeryLongFunctionNameThatWillOverflow() {
	Lvl1("Overflow")
}

func TestLvlf1Output(t *testing.T) {
	GetStdOut()
	Lvl1("Before")
	thisIsAVeryLongFunctionNameThatWillOverflow()
	Lvl1("After")
	out := GetStdOut()
	assert.True(t, strings.Contains(out, "Before"))
	assert.True(t, strings.Contains(out, "Overflow"))
	assert.True(t, strings.Contains(out, "After"))
}

func TestLvl3Output(t *testing.T) {
	oldPadding := NamePadding
	defer func() { NamePadding = oldPadding }()
	NamePadding = -1
	GetStdOut()
	Lvl1("Before")
	thisIsAVeryLongFunctionNameThatWillOverflow()
	Lvl1("After")
	out := GetStdOut()
	assert.True(t, strings.Contains(out, "Before"))
	assert.True(t, strings.Contains(out, "Overflow"))
	assert.True(t, strings.Contains(out, "After"))
}

func clearEnv() {
	os.Setenv("DEBUG_LVL", "")
	os.Setenv("DEBUG_TIME", "")
	os.Setenv("DEBUG_COLOR", "")
	os.Setenv("DEBUG_PADDING", "")
}
