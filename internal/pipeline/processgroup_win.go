//go:build windows
// +build windows

package pipeline

import (
	"os/exec"
	"strconv"
	"syscall"
)

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Taskkill with /T takes the whole child tree down.
// Adopted from: https://stackoverflow.com/a/44551450/6278
// Taskkill command documentation: https://learn.microsoft.com/en-us/windows-server/administration/windows-commands/taskkill

func terminateGroup(pid int) error {
	return exec.Command("TASKKILL", "/T", "/PID", strconv.Itoa(pid)).Run()
}

func killGroup(pid int) error {
	return exec.Command("TASKKILL", "/F", "/T", "/PID", strconv.Itoa(pid)).Run()
}
