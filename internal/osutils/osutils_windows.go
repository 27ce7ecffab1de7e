//go:build windows

package osutils

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// IsAdmin checks if the current process has administrative privileges
func IsAdmin() bool {
	var token windows.Token
	h, _ := windows.GetCurrentProcess()
	err := windows.OpenProcessToken(h, windows.TOKEN_QUERY, &token)
	if err != nil {
		return false
	}
	defer token.Close()

	var sid *windows.SID
	err = windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := token.IsMember(sid)
	if err != nil {
		return false
	}

	return member
}

// EnsureFirewallRule checks if an inbound rule for the control port exists,
// and if not, attempts to create it using PowerShell with admin elevation.
func EnsureFirewallRule(port int) error {
	ruleName := "KVMShare Control Channel"

	log.Printf("Firewall: Checking status for rule '%s' on port %d...", ruleName, port)

	checkCmd := exec.Command("netsh", "advfirewall", "firewall", "show", "rule", "name="+ruleName)
	output, err := checkCmd.CombinedOutput()
	outputStr := string(output)

	if err == nil && strings.Contains(outputStr, ruleName) {
		portStr := fmt.Sprintf("%d", port)
		if strings.Contains(outputStr, portStr) && strings.Contains(outputStr, "Allow") {
			log.Printf("Firewall: Rule '%s' already exists and matches port %d. OK.", ruleName, port)
			return nil
		}
		log.Printf("Firewall: Rule '%s' exists but port/action mismatch. Updating...", ruleName)
	} else {
		log.Printf("Firewall: Rule '%s' not found. Creating...", ruleName)
	}

	// Port-based rule without a -Program restriction, so a relocated binary
	// keeps its open port.
	psCommand := fmt.Sprintf(
		"Remove-NetFirewallRule -DisplayName '%s' -ErrorAction SilentlyContinue; New-NetFirewallRule -DisplayName '%s' -Direction Inbound -LocalPort %d -Protocol TCP -Action Allow -Profile Any",
		ruleName, ruleName, port,
	)

	if !IsAdmin() {
		log.Println("Firewall: Current process is NOT elevated. Requesting UAC elevation via ShellExecute...")

		verbPtr, _ := syscall.UTF16PtrFromString("runas")
		exePtr, _ := syscall.UTF16PtrFromString("powershell.exe")
		argPtr, _ := syscall.UTF16PtrFromString(fmt.Sprintf("-NoProfile -WindowStyle Hidden -Command \"%s\"", psCommand))

		var showCmd int32 = 0 // SW_HIDE

		err := windows.ShellExecute(0, verbPtr, exePtr, argPtr, nil, showCmd)
		if err != nil {
			return fmt.Errorf("failed to launch elevated powershell via ShellExecute: %w", err)
		}
		log.Println("Firewall: UAC prompt requested. Please check your screen/taskbar.")
	} else {
		cmd := exec.Command("powershell", "-NoProfile", "-Command", psCommand)
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("failed to create firewall rule: %w (Output: %s)", err, string(output))
		}
		log.Printf("Firewall: Applied port-based rule for port %d", port)
	}

	return nil
}
