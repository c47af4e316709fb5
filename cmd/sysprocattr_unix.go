//go:build !windows
// +build !windows

package cmd

import "syscall"

// detachedSysProcAttr starts the daemon child in its own session so it
// survives the parent terminal closing.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
