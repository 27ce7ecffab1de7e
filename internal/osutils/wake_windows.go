//go:build windows

package osutils

import (
	"log"
	"syscall"
	"unsafe"
)

var (
	user32        = syscall.NewLazyDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	inputMouse     = 0
	mouseEventMove = 0x0001
)

type mouseInput struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type winInput struct {
	Type uint32
	Mi   mouseInput
	_    [8]byte // Padding to match C structure alignment
}

// WakeUp jiggles the cursor so a sleeping or screensaver-covered display is
// lit before remote input starts landing on it.
func WakeUp() {
	log.Println("WakeUp: nudging cursor to light the display")

	var in winInput
	in.Type = inputMouse
	in.Mi.Dx = 1
	in.Mi.Dy = 1
	in.Mi.DwFlags = mouseEventMove

	procSendInput.Call(
		1,
		uintptr(unsafe.Pointer(&in)),
		unsafe.Sizeof(in),
	)

	// Move back
	in.Mi.Dx = -1
	in.Mi.Dy = -1
	procSendInput.Call(
		1,
		uintptr(unsafe.Pointer(&in)),
		unsafe.Sizeof(in),
	)
}
