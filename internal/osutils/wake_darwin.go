//go:build darwin

package osutils

/*
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>

void kvmshareWakeDisplay() {
    CGEventRef sample = CGEventCreate(NULL);
    CGPoint cur = CGEventGetLocation(sample);
    CFRelease(sample);

    // A one-pixel jiggle is enough to dismiss the screensaver and light
    // the display; the cursor ends up back where it started.
    CGEventRef out = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved,
        CGPointMake(cur.x + 1, cur.y + 1), kCGMouseButtonLeft);
    CGEventPost(kCGHIDEventTap, out);
    CFRelease(out);

    CGEventRef back = CGEventCreateMouseEvent(NULL, kCGEventMouseMoved,
        CGPointMake(cur.x, cur.y), kCGMouseButtonLeft);
    CGEventPost(kCGHIDEventTap, back);
    CFRelease(back);
}
*/
import "C"

import "log"

// WakeUp jiggles the cursor so a sleeping or screensaver-covered display is
// lit before remote input starts landing on it.
func WakeUp() {
	log.Println("WakeUp: nudging cursor to light the display")
	C.kvmshareWakeDisplay()
}
