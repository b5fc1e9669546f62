// Package privilege hands files written by a profiler started through sudo
// back to the user who invoked it.
package privilege

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
)

// Invoker is the user who ran sudo.
type Invoker struct {
	Username string
	UID      int
	GID      int
}

// SudoInvoker reads the sudo caller from the SUDO_* variables. It reports
// false when the process was not started through sudo.
func SudoInvoker(getenv func(string) string) (Invoker, bool, error) {
	name := getenv("SUDO_USER")
	if name == "" {
		return Invoker{}, false, nil
	}

	uid, err := sudoID(getenv, "SUDO_UID")
	if err != nil {
		return Invoker{}, true, err
	}
	gid, err := sudoID(getenv, "SUDO_GID")
	if err != nil {
		return Invoker{}, true, err
	}
	return Invoker{Username: name, UID: uid, GID: gid}, true, nil
}

func sudoID(getenv func(string) string, key string) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return 0, fmt.Errorf("SUDO_USER is set but %s is missing", key)
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return id, nil
}

// HandBack chowns path to the sudo caller. Outside of a root process started
// by sudo it does nothing.
func HandBack(fs afero.Fs, path string) error {
	return handBack(fs, path, os.Geteuid(), os.Getenv)
}

func handBack(fs afero.Fs, path string, euid int, getenv func(string) string) error {
	if euid != 0 {
		return nil
	}
	inv, ok, err := SudoInvoker(getenv)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if err := fs.Chown(path, inv.UID, inv.GID); err != nil {
		return fmt.Errorf("failed to hand %s back to %s: %w", path, inv.Username, err)
	}
	return nil
}
